package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/cotizador/cotizador/internal/backend"
	"github.com/cotizador/cotizador/internal/domain/quote"
)

// quoteFile is the YAML description of a quote:
//
//	form:
//	  company: Minera Sur
//	  recipient: Ana Torres
//	  location: Provincia
//	  clinics: [Arequipa, Cusco]
//	  margin: 25
//	protocols:
//	  - name: Operarios
//	    exams:
//	      - test: Hemograma
//	        types: [ingreso, periodico]
//	      - id: 42
//	        types: [ingreso]
//	        classification: R
//	        detail: Solo mayores de 40
//	        overrides: {ingreso: 35}
type quoteFile struct {
	Form      quoteForm       `yaml:"form"`
	Protocols []protocolEntry `yaml:"protocols"`
}

type quoteForm struct {
	Company       string   `yaml:"company"`
	Recipient     string   `yaml:"recipient"`
	Executive     string   `yaml:"executive"`
	Location      string   `yaml:"location"`
	Clinics       []string `yaml:"clinics"`
	DisplayClinic string   `yaml:"display_clinic"`
	Margin        float64  `yaml:"margin"`
}

type protocolEntry struct {
	Name  string      `yaml:"name"`
	Exams []examEntry `yaml:"exams"`
}

type examEntry struct {
	Test           string             `yaml:"test"`
	ID             int64              `yaml:"id"`
	Types          []string           `yaml:"types"`
	Classification string             `yaml:"classification"`
	Detail         string             `yaml:"detail"`
	Overrides      map[string]float64 `yaml:"overrides"`
}

func (e examEntry) label() string {
	if e.Test != "" {
		return e.Test
	}
	return fmt.Sprintf("#%d", e.ID)
}

func readQuoteFile(r io.Reader) (quoteFile, error) {
	var f quoteFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return quoteFile{}, fmt.Errorf("parse quote file: %w", err)
	}
	if len(f.Protocols) == 0 {
		return quoteFile{}, fmt.Errorf("parse quote file: at least one protocol is required")
	}
	return f, nil
}

// params returns the catalog parameters of the form. A blank location is
// Lima.
func (f quoteForm) params() (quote.Params, error) {
	loc := quote.Lima
	if strings.TrimSpace(f.Location) != "" {
		var err error
		if loc, err = quote.ParseLocation(f.Location); err != nil {
			return quote.Params{}, err
		}
	}
	p := quote.Params{Location: loc}
	if loc == quote.Provincia {
		p.Clinics = f.Clinics
		p.DisplayClinic = f.DisplayClinic
		p.Margin = f.Margin
	}
	return p, nil
}

// generationForm fills the executive from the session email when the file
// does not name one.
func (f quoteForm) generationForm(p quote.Params, sessionEmail string) quote.Form {
	executive := strings.TrimSpace(f.Executive)
	if executive == "" {
		executive = quote.ExecutiveFromSession(sessionEmail, "")
	}
	return quote.Form{
		Company:   strings.TrimSpace(f.Company),
		Recipient: strings.TrimSpace(f.Recipient),
		Executive: executive,
		Location:  p.Location,
		Clinics:   p.Clinics,
		Margin:    p.Margin,
	}
}

// buildQuote replays the file against catalog. The first protocol replaces
// the default one.
func buildQuote(f quoteFile, catalog []quote.Test) (*quote.Quote, error) {
	byID := make(map[int64]quote.Test, len(catalog))
	byName := make(map[string]quote.Test, len(catalog))
	for _, t := range catalog {
		byID[t.ID] = t
		byName[strings.ToLower(strings.TrimSpace(t.Name))] = t
	}

	q := quote.New()
	for i, p := range f.Protocols {
		name := strings.TrimSpace(p.Name)
		if name == "" {
			name = fmt.Sprintf("Protocolo %d", i+1)
		}
		switch {
		case i == 0:
			if err := q.RenameProtocol(quote.DefaultProtocol, name); err != nil {
				return nil, err
			}
		case !q.AddProtocol(name):
			return nil, fmt.Errorf("protocol %q: %w", name, quote.ErrDuplicateProtocol)
		}
		if err := q.SetActive(name); err != nil {
			return nil, err
		}

		seen := map[int64]bool{}
		for _, e := range p.Exams {
			test, ok := byID[e.ID]
			if e.ID == 0 {
				test, ok = byName[strings.ToLower(strings.TrimSpace(e.Test))]
			}
			if !ok {
				return nil, fmt.Errorf("protocol %q: exam %s is not in the catalog", name, e.label())
			}
			if seen[test.ID] {
				return nil, fmt.Errorf("protocol %q: exam %s is listed twice", name, e.label())
			}
			seen[test.ID] = true

			if err := addExam(q, name, test, e); err != nil {
				return nil, fmt.Errorf("protocol %q: exam %s: %w", name, e.label(), err)
			}
		}
	}

	if err := q.SetActive(q.Protocols()[0].Name); err != nil {
		return nil, err
	}
	return q, nil
}

func addExam(q *quote.Quote, protocol string, test quote.Test, e examEntry) error {
	if len(e.Types) == 0 {
		return fmt.Errorf("no price types")
	}
	added := map[quote.PriceType]bool{}
	for _, raw := range e.Types {
		pt, err := quote.ParsePriceType(raw)
		if err != nil {
			return err
		}
		if added[pt] {
			continue
		}
		added[pt] = true
		if err := q.ToggleType(test, pt); err != nil {
			return err
		}
	}

	var id int64
	for _, s := range q.SelectionsIn(protocol) {
		if s.TestID == test.ID {
			id = s.ID
		}
	}

	class, err := quote.ParseClassification(e.Classification)
	if err != nil {
		return err
	}
	if err := q.SetClassification(id, class); err != nil {
		return err
	}
	if e.Detail != "" {
		if class == nil || *class == quote.Adicional {
			return fmt.Errorf("detail needs classification C or R")
		}
		if err := q.SetDetail(id, e.Detail); err != nil {
			return err
		}
	}

	keys := make([]string, 0, len(e.Overrides))
	for k := range e.Overrides {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		pt, err := quote.ParsePriceType(k)
		if err != nil {
			return err
		}
		if err := q.SetOverride(id, pt, e.Overrides[k]); err != nil {
			return err
		}
	}
	return nil
}

func writeTotals(w io.Writer, title string, rows []quote.NamedTotals) {
	fmt.Fprintln(w, title)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "\tingreso\tperiodico\tretiro")
	for _, r := range rows {
		fmt.Fprintf(tw, "%s\t%.2f\t%.2f\t%.2f\n", r.Name, r.Totals[quote.Ingreso], r.Totals[quote.Periodico], r.Totals[quote.Retiro])
	}
	tw.Flush()
}

func quoteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "quote",
		Short: "Assemble quotes and generate proposals",
	}
	addClientFlags(cmd)

	generateCmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate the proposal bundle described by a quote file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("file")
			outDir, _ := cmd.Flags().GetString("out")
			dryRun, _ := cmd.Flags().GetBool("dry-run")
			saveProtocols, _ := cmd.Flags().GetBool("save-protocols")
			parallel, _ := cmd.Flags().GetInt("parallel")

			fh, err := os.Open(path)
			if err != nil {
				return err
			}
			defer fh.Close()
			file, err := readQuoteFile(fh)
			if err != nil {
				return err
			}
			params, err := file.Form.params()
			if err != nil {
				return err
			}

			client, _, err := clientFromFlags(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			fetcher := quote.NewCatalogFetcher(client, parallel)
			view := fetcher.Load(ctx, params)
			for source, cause := range view.Failures {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: %s: %s\n", source, backend.UserMessage(cause, cause.Error()))
			}
			if view.CatalogFailed() {
				return errors.New(quote.CatalogLoadFailedMessage)
			}

			q, err := buildQuote(file, view.Catalog)
			if err != nil {
				return err
			}
			fetcher.Apply(view, q)

			snap := q.Snapshot()
			writeTotals(out, "Totales por protocolo", quote.ProtocolTotals(snap))
			if params.Location == quote.Provincia && len(params.Clinics) > 0 {
				writeTotals(out, "Totales por sede", quote.ClinicTotals(snap, params.Clinics, view.PricesByClinic))
			}
			if dryRun {
				return nil
			}

			form := file.Form.generationForm(params, readClientOptions(cmd).As)
			res, err := quote.NewGenerator(client, quote.FileSink{Dir: outDir}).Generate(ctx, form, q)
			if err != nil {
				var genErr *quote.GenerationError
				if errors.As(err, &genErr) {
					return fmt.Errorf("%s (%s): %s", genErr.Message(), genErr.Step, backend.UserMessage(genErr.Err, genErr.Err.Error()))
				}
				return err
			}
			fmt.Fprintf(out, "Propuesta %s guardada en %s (%d bytes)\n", res.ProposalNumber, res.Location, res.Size)

			if saveProtocols {
				for _, p := range q.Protocols() {
					rec, err := q.ProtocolRecord(p.Name)
					if err != nil {
						return err
					}
					rec.Company = form.Company
					rec.Executive = form.Executive
					rec.Location = string(form.Location)
					if err := client.SaveProtocol(ctx, rec); err != nil {
						return fmt.Errorf("save protocol %q: %w", p.Name, err)
					}
				}
			}
			return nil
		},
	}
	generateCmd.Flags().StringP("file", "f", "quote.yaml", "Quote file")
	generateCmd.Flags().StringP("out", "o", ".", "Directory for the generated bundle")
	generateCmd.Flags().Bool("dry-run", false, "Load the catalog and print totals without generating")
	generateCmd.Flags().Bool("save-protocols", false, "Record every protocol with the backend after generating")
	generateCmd.Flags().Int("parallel", 4, "Concurrent catalog requests")

	executivesCmd := &cobra.Command{
		Use:   "executives",
		Short: "List the account executives and their titles",
		RunE: func(cmd *cobra.Command, args []string) error {
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, name := range quote.ExecutiveNames() {
				fmt.Fprintf(tw, "%s\t%s\n", name, quote.ExecutiveTitle(name))
			}
			return tw.Flush()
		},
	}

	cmd.AddCommand(generateCmd)
	cmd.AddCommand(executivesCmd)
	return cmd
}
