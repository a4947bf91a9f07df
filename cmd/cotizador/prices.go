package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/cotizador/cotizador/internal/backend"
	"github.com/cotizador/cotizador/internal/domain/quote"
)

func pricesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prices",
		Short: "Manage clinic price lists",
	}
	addClientFlags(cmd)

	templateCmd := &cobra.Command{
		Use:   "template",
		Short: "Download the import workbook template",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, _, err := clientFromFlags(cmd)
			if err != nil {
				return err
			}
			doc, err := client.PriceTemplate(cmd.Context())
			if err != nil {
				return errors.New(backend.UserMessage(err, "Error al descargar la plantilla."))
			}
			outDir, _ := cmd.Flags().GetString("out")
			loc, err := quote.FileSink{Dir: outDir}.Deliver(cmd.Context(), doc.FileName, doc)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), loc)
			return nil
		},
	}
	templateCmd.Flags().StringP("out", "o", ".", "Output directory")

	previewCmd := &cobra.Command{
		Use:   "preview FILE.xlsx",
		Short: "Validate a workbook without importing it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, _, err := clientFromFlags(cmd)
			if err != nil {
				return err
			}
			preview, err := previewFile(cmd, client, args[0])
			if err != nil {
				return err
			}
			writePreview(cmd, preview)
			return nil
		},
	}

	importCmd := &cobra.Command{
		Use:   "import FILE.xlsx",
		Short: "Preview and import a workbook",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, _, err := clientFromFlags(cmd)
			if err != nil {
				return err
			}
			preview, err := previewFile(cmd, client, args[0])
			if err != nil {
				return err
			}
			writePreview(cmd, preview)
			if !preview.CanConfirm() {
				return fmt.Errorf("no valid rows to import")
			}

			fh, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer fh.Close()
			res, err := client.ImportPrices(cmd.Context(), filepath.Base(args[0]), fh)
			if err != nil {
				return errors.New(backend.UserMessage(err, "Error al importar. Intenta de nuevo."))
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Importadas %d filas\n", res.Imported)
			for _, e := range res.Errors {
				fmt.Fprintf(cmd.ErrOrStderr(), "  %s\n", e)
			}
			return nil
		},
	}

	listCmd := &cobra.Command{
		Use:   "list [CLINIC]",
		Short: "List the prices of a clinic (Lima by default)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, _, err := clientFromFlags(cmd)
			if err != nil {
				return err
			}
			clinic := backend.LimaClinic
			if len(args) == 1 {
				clinic = args[0]
			}
			list, err := client.ListPrices(cmd.Context(), clinic)
			if err != nil {
				return errors.New(backend.UserMessage(err, "No se pudo cargar la lista de precios."))
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintf(tw, "id\tprueba\tcategoria\tingreso\tperiodico\tretiro\n")
			for _, r := range list.Tests {
				fmt.Fprintf(tw, "%d\t%s\t%s\t%.2f\t%.2f\t%.2f\n", r.TestID, r.TestName, r.Category, r.Ingreso, r.Periodico, r.Retiro)
			}
			return tw.Flush()
		},
	}

	searchCmd := &cobra.Command{
		Use:   "search QUERY",
		Short: "Find tests by name across clinics",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, _, err := clientFromFlags(cmd)
			if err != nil {
				return err
			}
			hits, err := client.SearchTests(cmd.Context(), args[0])
			if err != nil {
				return errors.New(backend.UserMessage(err, "No se pudo buscar."))
			}
			return printJSON(cmd, hits)
		},
	}

	addCmd := &cobra.Command{
		Use:   "add",
		Short: "Add a test price to a clinic",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, _, err := clientFromFlags(cmd)
			if err != nil {
				return err
			}
			p := backend.NewPrice{ClinicID: clinicIDFlag(cmd)}
			p.TestName, _ = cmd.Flags().GetString("name")
			p.Category, _ = cmd.Flags().GetString("category")
			p.Ingreso, p.Periodico, p.Retiro = priceFlags(cmd)
			priceID, testID, err := client.AddPrice(cmd.Context(), p)
			if err != nil {
				return errors.New(backend.UserMessage(err, err.Error()))
			}
			fmt.Fprintf(cmd.OutOrStdout(), "precio %d (prueba %d)\n", priceID, testID)
			return nil
		},
	}
	addCmd.Flags().String("name", "", "Test name")
	addCmd.Flags().String("category", "", "Test category")

	updateCmd := &cobra.Command{
		Use:   "update",
		Short: "Set the prices of a test in a clinic",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, _, err := clientFromFlags(cmd)
			if err != nil {
				return err
			}
			u := backend.PriceUpdate{ClinicID: clinicIDFlag(cmd)}
			u.TestID, _ = cmd.Flags().GetInt64("test")
			if u.TestID == 0 {
				return fmt.Errorf("--test is required")
			}
			u.Ingreso, u.Periodico, u.Retiro = priceFlags(cmd)
			if err := client.UpdatePrice(cmd.Context(), u); err != nil {
				return errors.New(backend.UserMessage(err, "Error al guardar. Intenta de nuevo."))
			}
			return nil
		},
	}
	updateCmd.Flags().Int64("test", 0, "Test id")

	deleteCmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete the prices of a test",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, _, err := clientFromFlags(cmd)
			if err != nil {
				return err
			}
			d := backend.PriceDeletion{ClinicID: clinicIDFlag(cmd)}
			d.TestID, _ = cmd.Flags().GetInt64("test")
			scope, _ := cmd.Flags().GetString("scope")
			if d.Scope, err = backend.ParseDeleteScope(scope); err != nil {
				return err
			}
			res, err := client.DeletePrice(cmd.Context(), d)
			if err != nil {
				return errors.New(backend.UserMessage(err, err.Error()))
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d precios eliminados de %s\n", res.Deleted, res.TestName)
			return nil
		},
	}
	deleteCmd.Flags().Int64("test", 0, "Test id")
	deleteCmd.Flags().String("scope", string(backend.ScopeClinic), "clinic, lima, all_provincia or all")

	for _, c := range []*cobra.Command{addCmd, updateCmd, deleteCmd} {
		c.Flags().Int64("clinic", 0, "Clinic id (omit for Lima)")
	}
	for _, c := range []*cobra.Command{addCmd, updateCmd} {
		c.Flags().Float64("ingreso", 0, "Ingreso price")
		c.Flags().Float64("periodico", 0, "Periodico price")
		c.Flags().Float64("retiro", 0, "Retiro price")
	}

	cmd.AddCommand(templateCmd, previewCmd, importCmd, listCmd, searchCmd, addCmd, updateCmd, deleteCmd)
	return cmd
}

func previewFile(cmd *cobra.Command, client *backend.Client, path string) (backend.ImportPreview, error) {
	fh, err := os.Open(path)
	if err != nil {
		return backend.ImportPreview{}, err
	}
	defer fh.Close()
	preview, err := client.PreviewImport(cmd.Context(), filepath.Base(path), fh)
	if err != nil {
		return backend.ImportPreview{}, errors.New(backend.UserMessage(err, "El archivo no es válido."))
	}
	return preview, nil
}

func writePreview(cmd *cobra.Command, p backend.ImportPreview) {
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "prueba\tcategoria\tclinica\tingreso\tperiodico\tretiro\testado")
	for _, r := range p.Rows {
		status := "ok"
		if !r.Valid {
			status = r.Error
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n", r.Prueba, r.Categoria, r.Clinica, optPrice(r.Ingreso), optPrice(r.Periodico), optPrice(r.Retiro), status)
	}
	tw.Flush()
	fmt.Fprintf(cmd.OutOrStdout(), "%d válidas, %d con errores\n", p.ValidCount, p.InvalidCount)
}

func optPrice(p *float64) string {
	if p == nil {
		return "-"
	}
	return fmt.Sprintf("%.2f", *p)
}

// clinicIDFlag returns nil (Lima) when --clinic is unset.
func clinicIDFlag(cmd *cobra.Command) *int64 {
	if !cmd.Flags().Changed("clinic") {
		return nil
	}
	id, _ := cmd.Flags().GetInt64("clinic")
	return &id
}

func priceFlags(cmd *cobra.Command) (ingreso, periodico, retiro float64) {
	ingreso, _ = cmd.Flags().GetFloat64("ingreso")
	periodico, _ = cmd.Flags().GetFloat64("periodico")
	retiro, _ = cmd.Flags().GetFloat64("retiro")
	return ingreso, periodico, retiro
}
