package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/rezonia/nfe-collector/internal/extractor"
	"github.com/rezonia/nfe-collector/internal/model"
	"github.com/rezonia/nfe-collector/internal/outbox"
	"github.com/rezonia/nfe-collector/internal/parser"
	"github.com/rezonia/nfe-collector/internal/validator"
)

var (
	outputFile     string
	processTimeout time.Duration
	enqueueResults bool
	validateDocs   bool
	strictNumbers  bool
)

var processCmd = &cobra.Command{
	Use:   "process [files...]",
	Short: "Parse invoice files once, without watching",
	Long: `Parse one or more fiscal documents and print the extracted data.
Accepts plain XML files, ZIP containers and directories.

By default nothing is persisted; with --enqueue the parsed invoices are
written to the local queue so the next daemon run delivers them.

Examples:
  nfe-collector process invoice.xml
  nfe-collector process export/ -f table
  nfe-collector process *.zip --enqueue --config cfg.yaml`,
	Args: cobra.MinimumNArgs(1),
	RunE: runProcess,
}

func init() {
	rootCmd.AddCommand(processCmd)

	processCmd.Flags().StringVarP(&outputFile, "output", "o", "", "Output file (default: stdout)")
	processCmd.Flags().DurationVar(&processTimeout, "timeout", 2*time.Minute, "Processing timeout per file")
	processCmd.Flags().BoolVar(&enqueueResults, "enqueue", false, "Persist parsed invoices to the local queue")
	processCmd.Flags().BoolVar(&validateDocs, "validate", false, "Run structural validation before extraction")
	processCmd.Flags().BoolVar(&strictNumbers, "strict-numbers", false, "Fail on unparsable numeric fields instead of zeroing them")
}

// ProcessResult holds the result of processing a single document
type ProcessResult struct {
	File     string         `json:"file"`
	Invoice  *model.Invoice `json:"invoice,omitempty"`
	Queued   bool           `json:"queued,omitempty"`
	Error    string         `json:"error,omitempty"`
	Duration string         `json:"duration,omitempty"`
}

func runProcess(cmd *cobra.Command, args []string) error {
	files, err := collectFiles(args)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no files found to process")
	}
	printVerbose("Found %d files to process\n", len(files))

	parserOpts := []parser.Option{}
	if strictNumbers {
		parserOpts = append(parserOpts, parser.WithStrictNumbers())
	}
	if validateDocs {
		parserOpts = append(parserOpts, parser.WithValidator(validator.NewStructuralValidator()))
	}
	p := parser.NewParser(parserOpts...)
	ext := extractor.NewExtractor()

	var queue *outbox.Queue
	if enqueueResults {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		db, err := outbox.OpenDB(cfg.Queue.DBPath)
		if err != nil {
			return fmt.Errorf("open queue database: %w", err)
		}
		queue = outbox.NewQueue(db)
	}

	var results []*ProcessResult
	for _, file := range files {
		printVerbose("Processing: %s\n", file)
		results = append(results, processOne(p, ext, queue, file)...)
	}

	return outputResults(results)
}

func processOne(p *parser.Parser, ext *extractor.Extractor, queue *outbox.Queue, path string) []*ProcessResult {
	ctx, cancel := context.WithTimeout(context.Background(), processTimeout)
	defer cancel()

	data, err := os.ReadFile(path)
	if err != nil {
		return []*ProcessResult{{File: path, Error: fmt.Sprintf("failed to read file: %v", err)}}
	}

	if extractor.IsArchive(data) || strings.EqualFold(filepath.Ext(path), ".zip") {
		var results []*ProcessResult
		for _, entry := range ext.Extract(data) {
			name := path + "!" + entry.Name
			if !entry.OK() {
				results = append(results, &ProcessResult{File: name, Error: entry.Err.Error()})
				continue
			}
			results = append(results, parseOne(ctx, p, queue, entry.Content, name))
		}
		return results
	}

	return []*ProcessResult{parseOne(ctx, p, queue, data, path)}
}

func parseOne(ctx context.Context, p *parser.Parser, queue *outbox.Queue, data []byte, name string) *ProcessResult {
	result := p.Parse(ctx, data, filepath.Base(name))
	pr := &ProcessResult{File: name, Duration: result.ProcessingTime.String()}
	if !result.OK() {
		pr.Error = result.Err.Error()
		return pr
	}
	pr.Invoice = result.Invoice

	if queue != nil {
		payload, err := json.Marshal(result.Invoice)
		if err != nil {
			pr.Error = fmt.Sprintf("failed to encode invoice: %v", err)
			return pr
		}
		err = queue.Enqueue(ctx, &outbox.QueueItem{
			AccessKey:    result.Invoice.AccessKey,
			ContentHash:  result.ContentHash,
			DocumentType: string(result.Invoice.Type),
			Payload:      string(payload),
			SourceFile:   name,
		})
		switch err.(type) {
		case nil:
			pr.Queued = true
		case *model.DuplicateError:
			printVerbose("  Duplicate, already queued: %s\n", result.Invoice.AccessKey)
		default:
			pr.Error = err.Error()
		}
	}
	return pr
}

func collectFiles(args []string) ([]string, error) {
	var files []string

	for _, arg := range args {
		matches, err := filepath.Glob(arg)
		if err != nil {
			return nil, fmt.Errorf("invalid pattern %s: %w", arg, err)
		}

		if len(matches) == 0 {
			info, err := os.Stat(arg)
			if err != nil {
				return nil, fmt.Errorf("file not found: %s", arg)
			}
			if info.IsDir() {
				err := filepath.Walk(arg, func(path string, info os.FileInfo, err error) error {
					if err != nil {
						return err
					}
					if !info.IsDir() && isSupportedFile(path) {
						files = append(files, path)
					}
					return nil
				})
				if err != nil {
					return nil, err
				}
			} else {
				files = append(files, arg)
			}
			continue
		}

		for _, match := range matches {
			info, err := os.Stat(match)
			if err != nil {
				continue
			}
			if !info.IsDir() && isSupportedFile(match) {
				files = append(files, match)
			}
		}
	}

	return files, nil
}

func isSupportedFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xml", ".zip":
		return true
	default:
		return false
	}
}

func outputResults(results []*ProcessResult) error {
	var writer = os.Stdout
	if outputFile != "" {
		f, err := os.Create(outputFile)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer f.Close()
		writer = f
	}

	switch outputFormat {
	case "json":
		return outputJSON(writer, results)
	case "table":
		return outputTable(writer, results)
	case "csv":
		return outputCSV(writer, results)
	default:
		return fmt.Errorf("unsupported output format: %s", outputFormat)
	}
}

func outputJSON(w *os.File, results []*ProcessResult) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(results)
}

func outputTable(w *os.File, results []*ProcessResult) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "FILE\tTYPE\tNUMBER\tSERIES\tDATE\tTOTAL\tACCESS KEY")
	fmt.Fprintln(tw, "----\t----\t------\t------\t----\t-----\t----------")

	for _, r := range results {
		if r.Error != "" {
			fmt.Fprintf(tw, "%s\tERROR: %s\t\t\t\t\t\n", r.File, r.Error)
			continue
		}
		if r.Invoice != nil {
			date := ""
			if !r.Invoice.IssuedAt.IsZero() {
				date = r.Invoice.IssuedAt.Format("2006-01-02")
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
				r.File,
				r.Invoice.Type,
				r.Invoice.Number,
				r.Invoice.Series,
				date,
				r.Invoice.Totals.Gross.String(),
				r.Invoice.AccessKey,
			)
		}
	}

	return tw.Flush()
}

func outputCSV(w *os.File, results []*ProcessResult) error {
	fmt.Fprintln(w, "file,type,number,series,date,issuer_name,issuer_tax_id,total,access_key,queued,error")

	for _, r := range results {
		if r.Error != "" {
			fmt.Fprintf(w, "%s,,,,,,,,,,%s\n", r.File, escapeCSV(r.Error))
			continue
		}
		if r.Invoice != nil {
			date := ""
			if !r.Invoice.IssuedAt.IsZero() {
				date = r.Invoice.IssuedAt.Format("2006-01-02")
			}
			fmt.Fprintf(w, "%s,%s,%s,%s,%s,%s,%s,%s,%s,%t,\n",
				r.File,
				r.Invoice.Type,
				r.Invoice.Number,
				r.Invoice.Series,
				date,
				escapeCSV(r.Invoice.Issuer.Name),
				r.Invoice.Issuer.TaxID,
				r.Invoice.Totals.Gross.String(),
				r.Invoice.AccessKey,
				r.Queued,
			)
		}
	}

	return nil
}

func escapeCSV(s string) string {
	if strings.Contains(s, ",") || strings.Contains(s, "\"") || strings.Contains(s, "\n") {
		return "\"" + strings.ReplaceAll(s, "\"", "\"\"") + "\""
	}
	return s
}
