package quote

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// GenerationFailedMessage is shown for any failure after validation.
const GenerationFailedMessage = "No se pudo generar el documento. Intenta de nuevo."

// DefaultProposalNumber is used when the backend does not return one.
const DefaultProposalNumber = "0001"

var (
	ErrMissingQuoteFields = errors.New("company, recipient and executive are required")
	ErrNoSelections       = errors.New("at least one test must be selected")
)

// GenerationError wraps whatever failed while generating. Message is the
// text to show the user.
type GenerationError struct {
	Step string
	Err  error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generate documents: %s: %v", e.Step, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// Message returns the user-facing text.
func (e *GenerationError) Message() string { return GenerationFailedMessage }

// Form holds the proposal header fields entered by the user.
type Form struct {
	Company   string   `yaml:"company"`
	Recipient string   `yaml:"recipient"`
	Executive string   `yaml:"executive"`
	Location  Location `yaml:"location"`
	Clinics   []string `yaml:"clinics"`
	Margin    float64  `yaml:"margin"`
}

// Validate reports the first missing precondition.
func (f Form) Validate() error {
	var missing []string
	if strings.TrimSpace(f.Company) == "" {
		missing = append(missing, "company")
	}
	if strings.TrimSpace(f.Recipient) == "" {
		missing = append(missing, "recipient")
	}
	if strings.TrimSpace(f.Executive) == "" {
		missing = append(missing, "executive")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrMissingQuoteFields, strings.Join(missing, ", "))
	}
	return nil
}

// Document is a generated file as returned by the backend.
type Document struct {
	ContentType string
	FileName    string
	Body        []byte
}

// DocumentService is the backend side of generation.
type DocumentService interface {
	NextProposalNumber(ctx context.Context, executive string) (string, error)
	CreateDocuments(ctx context.Context, payload GenerationPayload) (Document, error)
}

// Sink receives a generated document under its download name and returns
// where it was stored.
type Sink interface {
	Deliver(ctx context.Context, name string, doc Document) (string, error)
}

// Result describes a successful generation.
type Result struct {
	ProposalNumber string
	FileName       string
	Location       string
	Size           int
	Totals         Totals
}

// Generator builds the proposal payload from a quote and hands the generated
// bundle to a Sink.
type Generator struct {
	docs DocumentService
	sink Sink
}

func NewGenerator(docs DocumentService, sink Sink) *Generator {
	return &Generator{docs: docs, sink: sink}
}

// Generate validates the form and the quote, reserves a proposal number,
// requests the documents and delivers them. A reserved number is not given
// back when a later step fails.
func (g *Generator) Generate(ctx context.Context, form Form, q *Quote) (Result, error) {
	if err := form.Validate(); err != nil {
		return Result{}, err
	}
	snap := q.Snapshot()
	if len(snap.Selections) == 0 {
		return Result{}, ErrNoSelections
	}

	number, err := g.docs.NextProposalNumber(ctx, form.Executive)
	if err != nil {
		return Result{}, &GenerationError{Step: "proposal number", Err: err}
	}
	if strings.TrimSpace(number) == "" {
		number = DefaultProposalNumber
	}

	payload := BuildPayload(form, snap, number)
	doc, err := g.docs.CreateDocuments(ctx, payload)
	if err != nil {
		return Result{}, &GenerationError{Step: "create documents", Err: err}
	}

	name := DownloadName(form.Company, number)
	loc, err := g.sink.Deliver(ctx, name, doc)
	if err != nil {
		return Result{}, &GenerationError{Step: "deliver", Err: err}
	}

	return Result{
		ProposalNumber: number,
		FileName:       name,
		Location:       loc,
		Size:           len(doc.Body),
		Totals:         ComputeTotals(snap.Selections),
	}, nil
}

// BuildPayload assembles the generation request. Clinics and margin are only
// sent for Provincia.
func BuildPayload(form Form, snap Snapshot, proposalNumber string) GenerationPayload {
	p := GenerationPayload{
		Company:        form.Company,
		Recipient:      form.Recipient,
		Executive:      form.Executive,
		ExecutiveTitle: ExecutiveTitle(form.Executive),
		Location:       form.Location,
		Selections:     snap.Selections,
		Protocols:      snap.Protocols,
		Images:         []Image{},
		ProposalNumber: proposalNumber,
	}
	if p.Location == "" {
		p.Location = Lima
	}
	if p.Selections == nil {
		p.Selections = []Selection{}
	}
	if p.Location == Provincia {
		p.Clinics = append([]string(nil), form.Clinics...)
		m := EffectiveMargin(form.Margin)
		p.Margin = &m
	}
	return p
}

// DownloadName is the file name given to a generated bundle.
func DownloadName(company, proposalNumber string) string {
	return fmt.Sprintf("cotizacion_%s_%s.zip", company, proposalNumber)
}

// FileSink writes documents into a directory.
type FileSink struct {
	Dir string
}

func (s FileSink) Deliver(_ context.Context, name string, doc Document) (string, error) {
	dir := s.Dir
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	path := filepath.Join(dir, safeFileName(name))
	if err := os.WriteFile(path, doc.Body, 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	return path, nil
}

// safeFileName keeps a company name from escaping the output directory.
func safeFileName(name string) string {
	r := strings.NewReplacer("/", "_", "\\", "_", "\x00", "")
	name = r.Replace(name)
	if name == "" || name == "." || name == ".." {
		return "cotizacion.zip"
	}
	return name
}
