package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/vicmaps/internal/aggregate"
	"github.com/sells-group/vicmaps/internal/app"
	"github.com/sells-group/vicmaps/internal/geotable"
)

var dataCmd = &cobra.Command{
	Use:   "data",
	Short: "Inspect and export the dashboard datasets",
}

var dataStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show configured datasets and what loaded from them",
	RunE: func(cmd *cobra.Command, args []string) error {
		paths := app.PathsFromConfig(cfg)
		appCtx, err := app.Load(cmd.Context(), paths)
		if err != nil {
			return eris.Wrap(err, "data status")
		}
		formatDataStatus(cmd.OutOrStdout(), paths, appCtx)
		return nil
	},
}

var (
	permitsCategory string
	permitsOutput   string
)

var dataPermitsCmd = &cobra.Command{
	Use:   "permits",
	Short: "Export the permits choropleth as GeoJSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		col, err := aggregate.ColorColumn(permitsCategory)
		if err != nil {
			return err
		}
		appCtx := app.New(app.PathsFromConfig(cfg), nil, nil)
		t, err := appCtx.Choropleth()
		if err != nil {
			return eris.Wrap(err, "data permits")
		}
		data, err := geotable.MarshalFeatureCollection(t)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if permitsOutput != "" && permitsOutput != "-" {
			f, err := os.Create(permitsOutput)
			if err != nil {
				return eris.Wrap(err, "data permits: create output")
			}
			defer f.Close() //nolint:errcheck
			out = f
		}
		if _, err := out.Write(append(data, '\n')); err != nil {
			return eris.Wrap(err, "data permits: write")
		}
		_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "%d postcodes, colour by %s\n", t.Len(), col)
		return nil
	},
}

var dataCrimeCmd = &cobra.Command{
	Use:   "crime",
	Short: "Show crime counts joined to LGA locations",
	RunE: func(cmd *cobra.Command, args []string) error {
		appCtx := app.New(app.PathsFromConfig(cfg), nil, nil)
		res, err := appCtx.Crime()
		if err != nil {
			return eris.Wrap(err, "data crime")
		}
		formatCrime(cmd.OutOrStdout(), res)
		return nil
	},
}

func init() {
	dataPermitsCmd.Flags().StringVar(&permitsCategory, "category", aggregate.AllCategories, "building use category to colour by")
	dataPermitsCmd.Flags().StringVarP(&permitsOutput, "output", "o", "-", "output file, - for stdout")
	dataCmd.AddCommand(dataStatusCmd, dataPermitsCmd, dataCrimeCmd)
	rootCmd.AddCommand(dataCmd)
}

func fileState(path string) string {
	if path == "" {
		return "not configured"
	}
	if _, err := os.Stat(path); err != nil {
		return "absent"
	}
	return "present"
}

// formatDataStatus writes one line per configured dataset.
func formatDataStatus(out io.Writer, p app.Paths, c *app.Context) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "DATASET\tPATH\tSTATE\tROWS\tCRS")
	_, _ = fmt.Fprintln(w, "-------\t----\t-----\t----\t---")

	loaded := func(name, path string, t *geotable.Table) {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", name, path, fileState(path), t.Len(), t.CRS.String())
	}
	loaded("infrastructure", p.Infrastructure, c.Bikes)
	loaded("facilities", p.Facilities, c.Facilities)

	for _, d := range []struct{ name, path string }{
		{"permits", p.Permits},
		{"postcodes", p.Postcodes},
		{"crime", p.Crime},
		{"suburbs", p.Suburbs},
		{"schools", p.Schools},
		{"enrolments", p.Enrolments},
	} {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t-\t-\n", d.name, d.path, fileState(d.path))
	}
	_ = w.Flush()
}

// formatCrime writes the joined rows and the names left out of the join.
func formatCrime(out io.Writer, res *aggregate.CrimeResult) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "LGA\tPOSTCODE\tPOPULATION\tVICTIM REPORTS\tLAT\tLON")
	_, _ = fmt.Fprintln(w, "---\t--------\t----------\t--------------\t---\t---")
	for _, r := range res.Rows {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%.0f\t%.0f\t%.4f\t%.4f\n",
			r.LGA, r.Postcode, r.Population, r.VictimReports, r.Lat, r.Lon)
	}
	_ = w.Flush()

	_, _ = fmt.Fprintf(out, "\n%d crime LGAs without suburbs, %d suburb LGAs without crime\n",
		len(res.DroppedCrime), len(res.DroppedSuburbs))
	for _, name := range res.DroppedCrime {
		_, _ = fmt.Fprintf(out, "  crime only: %s\n", name)
	}
	for _, name := range res.DroppedSuburbs {
		_, _ = fmt.Fprintf(out, "  suburbs only: %s\n", name)
	}
}
