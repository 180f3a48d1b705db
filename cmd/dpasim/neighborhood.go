package main

import (
	"fmt"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/schollz/progressbar/v3"
	"gopkg.in/urfave/cli.v1"

	"github.com/Wireless-Innovation-Forum/Spectrum-Access-System-sub002/aggregate"
	"github.com/Wireless-Innovation-Forum/Spectrum-Access-System-sub002/model"
	"github.com/Wireless-Innovation-Forum/Spectrum-Access-System-sub002/synth"
)

var (
	modeFlag = cli.StringFlag{
		Name:  "mode",
		Usage: "ntia or winnforum (overrides simulation.mode)",
	}
	channelFlag = cli.Float64Flag{
		Name:  "channel",
		Usage: "low edge, in MHz, of the protected 10 MHz channel (default: first DPA channel)",
	}
	populationFlag = cli.IntFlag{
		Name:  "population",
		Usage: "fixed access point count of every deployment",
	}
	censusFlag = cli.StringFlag{
		Name:  "census",
		Usage: "latitude,longitude,population CSV of census tracts",
	}
	regionFlag = cli.StringFlag{
		Name:  "region",
		Usage: "force the region type: RURAL, SUBURBAN, URBAN or DENSE_URBAN",
	}
	quietFlag = cli.BoolFlag{
		Name:  "quiet",
		Usage: "do not draw the progress bar",
	}

	neighborhoodCommand = cli.Command{
		Action:    runNeighborhood,
		Name:      "neighborhood",
		Usage:     "Estimate the neighborhood distances of a DPA",
		ArgsUsage: "",
		Flags: []cli.Flag{
			dpaFlag, portalFlag, modeFlag, channelFlag,
			populationFlag, censusFlag, regionFlag, quietFlag,
		},
		Description: `The neighborhood command runs the aggregate interference Monte-Carlo
simulation around a DPA and prints the 95th percentile distances per
deployment kind and CBSD category.`,
	}
)

// deployment maps the population flags to deployment options. Without a
// population flag the region density model is used.
func deployment(c *cli.Context) (aggregate.DeploymentOptions, error) {
	var opts aggregate.DeploymentOptions
	if s := c.String(regionFlag.Name); s != "" {
		r, err := model.ParseRegionType(strings.ToUpper(s))
		if err != nil {
			return opts, err
		}
		opts.Region = &r
	}
	switch {
	case c.String(censusFlag.Name) != "":
		census, err := synth.LoadCensus(c.String(censusFlag.Name))
		if err != nil {
			return opts, err
		}
		opts.Population = census
	case c.IsSet(populationFlag.Name):
		n := c.Int(populationFlag.Name)
		if n < 0 {
			return opts, fmt.Errorf("--%s %d must not be negative", populationFlag.Name, n)
		}
		opts.Population = synth.FixedPopulation(n)
	case opts.Region != nil:
		opts.Population = synth.DensityModel{Region: *opts.Region}
	}
	return opts, nil
}

func runNeighborhood(c *cli.Context) error {
	name := c.String(dpaFlag.Name)
	if name == "" {
		return fmt.Errorf("neighborhood needs --%s", dpaFlag.Name)
	}
	dep, err := deployment(c)
	if err != nil {
		return err
	}
	ctx, cancel := signalContext()
	defer cancel()
	e, err := setup(ctx, c)
	if err != nil {
		return err
	}
	defer e.close()

	mode := e.cfg.Mode()
	if s := c.String(modeFlag.Name); s != "" {
		if mode, err = aggregate.ParseMode(s); err != nil {
			return err
		}
	}
	d, err := e.buildDpa(name)
	if err != nil {
		return err
	}

	sim := e.cfg.Simulation
	opts := []aggregate.Option{
		aggregate.WithMode(mode),
		aggregate.WithIterations(sim.AggregateIterations),
		aggregate.WithMoveListIterations(sim.MoveListIterations),
		aggregate.WithSeed(sim.Seed),
		aggregate.WithDeployment(dep),
		aggregate.WithPool(e.pool),
		aggregate.WithLogger(e.log),
		aggregate.WithMetrics(e.metrics),
	}
	if c.IsSet(channelFlag.Name) {
		low := c.Float64(channelFlag.Name)
		opts = append(opts, aggregate.WithChannel(model.ChannelMHz(low, low+10)))
	}
	if !c.Bool(quietFlag.Name) {
		kinds := len(dep.Kinds)
		if kinds == 0 {
			kinds = 2
		}
		bar := progressbar.Default(int64(kinds*sim.AggregateIterations), "Iterations")
		defer bar.Finish()
		opts = append(opts, aggregate.WithProgress(func() { _ = bar.Add(1) }))
	}
	calc, err := aggregate.NewCalculator(d, opts...)
	if err != nil {
		return err
	}
	res, err := calc.Calculate(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintf(c.App.Writer, "DPA %s channel %s, %s mode, %d iterations, run %s\n",
		res.Dpa, channelLabel(res.Channel.LowHz, res.Channel.HighHz), res.Mode, res.NumIter, res.RunID)
	table := tablewriter.NewWriter(c.App.Writer)
	table.SetHeader([]string{"Kind", "Cat A (km)", "Cat A (dBm)", "Cat B (km)", "Cat B (dBm)"})
	for _, kind := range []synth.Kind{synth.AccessPoint, synth.UserEquipment} {
		kr, ok := res.PerKind[kind]
		if !ok {
			continue
		}
		table.Append([]string{
			kind.String(),
			formatKm(kr.CatA.DistanceKm), formatDBm(kr.CatA.InterferenceDBm),
			formatKm(kr.CatB.DistanceKm), formatDBm(kr.CatB.InterferenceDBm),
		})
	}
	table.SetFooter([]string{
		"max",
		formatKm(res.Distances.CatAKm), formatDBm(res.Interferences[model.CategoryA]),
		formatKm(res.Distances.CatBKm), formatDBm(res.Interferences[model.CategoryB]),
	})
	table.Render()
	return nil
}

func formatDBm(v float64) string { return fmt.Sprintf("%.1f", v) }
