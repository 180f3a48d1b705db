package main

import (
	"fmt"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"gopkg.in/urfave/cli.v1"

	"github.com/Wireless-Innovation-Forum/Spectrum-Access-System-sub002/dpa"
	"github.com/Wireless-Innovation-Forum/Spectrum-Access-System-sub002/internal/logging"
)

var (
	grantsFlag = cli.StringFlag{
		Name:  "grants",
		Usage: "grants CSV file",
	}
	checkFlag = cli.BoolFlag{
		Name:  "check",
		Usage: "check the interference of the kept grants against the move list reference",
	}

	moveListCommand = cli.Command{
		Action:    runMoveList,
		Name:      "movelist",
		Usage:     "Compute the move list of a DPA",
		ArgsUsage: "",
		Flags:     []cli.Flag{dpaFlag, portalFlag, grantsFlag, checkFlag},
		Description: `The movelist command binds the grants of a CSV file to a DPA and
prints, per channel, the neighbor and move list sizes and the farthest
moved grant per CBSD category.`,
	}
)

// buildDpa builds the named DPA on the shared pool.
func (e *env) buildDpa(name string) (*dpa.Dpa, error) {
	sim := e.cfg.Simulation
	opts := []dpa.Option{
		dpa.WithPool(e.pool),
		dpa.WithSeed(sim.Seed),
		dpa.WithNumIterations(sim.MoveListIterations),
		dpa.WithLogger(e.log),
		dpa.WithMetrics(e.metrics),
	}
	if sim.PortalDpaFile != "" {
		opts = append(opts, dpa.WithPortalFile(sim.PortalDpaFile))
	}
	return dpa.BuildDpa(name, sim.PointsMethod, opts...)
}

func runMoveList(c *cli.Context) error {
	name, path := c.String(dpaFlag.Name), c.String(grantsFlag.Name)
	if name == "" || path == "" {
		return fmt.Errorf("movelist needs --%s and --%s", dpaFlag.Name, grantsFlag.Name)
	}
	ctx, cancel := signalContext()
	defer cancel()
	e, err := setup(ctx, c)
	if err != nil {
		return err
	}
	defer e.close()
	ctx, log := logging.WithRunLogger(ctx, e.log)

	grants, err := readGrants(path)
	if err != nil {
		return err
	}
	d, err := e.buildDpa(name)
	if err != nil {
		return err
	}
	if err := d.SetGrantsFromList(grants); err != nil {
		return err
	}
	sim := e.cfg.Simulation
	if err := d.ComputeMoveLists(ctx, sim.Hybrid, sim.AddClutter); err != nil {
		return err
	}

	header := []string{"Channel (MHz)", "Neighbors", "Moved", "Cat A (km)", "Cat B (km)"}
	if c.Bool(checkFlag.Name) {
		header = append(header, "Check")
	}
	table := tablewriter.NewWriter(c.App.Writer)
	table.SetHeader(header)
	for _, ch := range d.Channels {
		neighbors, err := d.GetNeighborList(ch)
		if err != nil {
			return err
		}
		moved, err := d.GetMoveList(ch)
		if err != nil {
			return err
		}
		dist, err := d.GetDpaNeighborhoodDistance(ch)
		if err != nil {
			return err
		}
		row := []string{
			channelLabel(ch.LowHz, ch.HighHz),
			strconv.Itoa(neighbors.Cardinality()),
			strconv.Itoa(moved.Cardinality()),
			formatKm(dist.CatAKm),
			formatKm(dist.CatBKm),
		}
		if c.Bool(checkFlag.Name) {
			passed, err := d.CheckInterference(ctx, neighbors.Difference(moved), sim.MarginDB, ch, false)
			if err != nil {
				return err
			}
			row = append(row, passFail(passed))
		}
		table.Append(row)
	}
	log.Info(ctx, "move lists ready", logging.String("dpa", d.Name), logging.Int("grants", len(grants)))
	fmt.Fprintf(c.App.Writer, "DPA %s: %d grants, %d protection points\n", d.Name, len(grants), len(d.ProtectionPoints))
	table.Render()
	return nil
}

func channelLabel(lowHz, highHz float64) string {
	return fmt.Sprintf("%g-%g", lowHz/1e6, highHz/1e6)
}

func formatKm(km float64) string { return strconv.FormatFloat(km, 'f', 1, 64) }

func passFail(ok bool) string {
	if ok {
		return "pass"
	}
	return "FAIL"
}
