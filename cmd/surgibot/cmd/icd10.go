package cmd

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/opdacuont2563-hash/surgibot/server"
	"github.com/opdacuont2563-hash/surgibot/store/sqlite"
)

var icd10Cmd = &cobra.Command{
	Use:   "icd10 <csv-file>",
	Short: "Load the ICD-10 catalog into the database",
	Long: `Import a code,term CSV into the catalog table backing diagnosis
lookups. Existing entries with the same code are replaced, so re-running
with a newer catalog is safe.`,
	Args: cobra.ExactArgs(1),
	RunE: runICD10,
}

func runICD10(cmd *cobra.Command, args []string) error {
	f, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer f.Close()

	entries, err := readCatalog(f)
	if err != nil {
		return fmt.Errorf("parse %s: %w", args[0], err)
	}

	ctx := context.Background()
	st, err := sqlite.Open(ctx, viper.GetString("db"))
	if err != nil {
		return err
	}
	defer st.Close()

	if err := server.SeedICD10(ctx, st, entries); err != nil {
		return err
	}

	cmd.Printf("Loaded %d catalog entries\n", len(entries))
	return nil
}

// readCatalog parses code,term rows. A header line is recognized by its
// "code" cell and skipped; blank codes are dropped.
func readCatalog(r io.Reader) ([]server.ICD10Entry, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	var entries []server.ICD10Entry
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if len(record) < 2 {
			continue
		}

		code := strings.TrimSpace(record[0])
		term := strings.TrimSpace(record[1])
		if code == "" || strings.EqualFold(code, "code") {
			continue
		}
		entries = append(entries, server.ICD10Entry{Code: code, Term: term})
	}
	return entries, nil
}

func init() {
	rootCmd.AddCommand(icd10Cmd)
}
