// Package extractor turns an uploaded tabular file into validated contacts.
package extractor

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/acme/outbound-call-queue/internal/domain"
	"github.com/acme/outbound-call-queue/internal/phone"
	apperrors "github.com/acme/outbound-call-queue/pkg/errors"
)

// Report summarises one extraction.
type Report struct {
	TotalRows int
	ValidRows int
	Contacts  []domain.Contact
	Errors    []string
}

// Options bounds the extraction.
type Options struct {
	MaxRows int
}

type field int

const (
	fieldName field = iota
	fieldPhone
	fieldCity
	fieldEmail
	fieldNotes
)

// headerAliases lists accepted headers per field, highest priority first.
var headerAliases = map[field][]string{
	fieldName:  {"name", "fullname", "contactname", "customername", "clientname", "firstname"},
	fieldPhone: {"phone", "phonenumber", "mobile", "mobilenumber", "contact", "contactnumber", "number", "cell", "telephone", "tel", "whatsapp"},
	fieldCity:  {"city", "location", "town", "place"},
	fieldEmail: {"email", "emailaddress", "mail", "emailid"},
	fieldNotes: {"notes", "note", "comments", "comment", "remarks", "description"},
}

// Supported reports whether filename has an accepted tabular extension.
func Supported(filename string) bool {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".csv", ".xlsx":
		return true
	}
	return false
}

// Extract reads filename's content from r and validates every data row.
func Extract(filename string, r io.Reader, opts Options) (*Report, error) {
	var (
		rows [][]string
		err  error
	)
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".csv":
		rows, err = readCSV(r)
	case ".xlsx":
		rows, err = readXLSX(r)
	default:
		return nil, fmt.Errorf("%w: unsupported file type %q, expected .csv or .xlsx", apperrors.ErrValidation, filepath.Ext(filename))
	}
	if err != nil {
		return nil, err
	}
	return parseRows(rows, opts)
}

func readCSV(r io.Reader) ([][]string, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	reader.LazyQuotes = true

	rows, err := reader.ReadAll()
	if err != nil {
		var parseErr *csv.ParseError
		if errors.As(err, &parseErr) {
			return nil, fmt.Errorf("%w: malformed csv: %v", apperrors.ErrValidation, parseErr)
		}
		return nil, fmt.Errorf("extractor: read csv: %w", err)
	}
	return rows, nil
}

func readXLSX(r io.Reader) ([][]string, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("%w: unreadable spreadsheet: %v", apperrors.ErrValidation, err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("%w: spreadsheet has no sheets", apperrors.ErrValidation)
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("extractor: read sheet %q: %w", sheets[0], err)
	}
	return rows, nil
}

func parseRows(rows [][]string, opts Options) (*Report, error) {
	headerIdx := -1
	for i, row := range rows {
		if !blank(row) {
			headerIdx = i
			break
		}
	}
	if headerIdx < 0 {
		return nil, fmt.Errorf("%w: file is empty", apperrors.ErrValidation)
	}

	columns := resolveColumns(rows[headerIdx])
	if _, ok := columns[fieldName]; !ok {
		return nil, fmt.Errorf("%w: no name column found", apperrors.ErrValidation)
	}
	if _, ok := columns[fieldPhone]; !ok {
		return nil, fmt.Errorf("%w: no phone column found", apperrors.ErrValidation)
	}

	report := &Report{}
	for i := headerIdx + 1; i < len(rows); i++ {
		row := rows[i]
		if blank(row) {
			continue
		}
		report.TotalRows++
		if opts.MaxRows > 0 && report.TotalRows > opts.MaxRows {
			return nil, fmt.Errorf("%w: file exceeds %d rows", apperrors.ErrValidation, opts.MaxRows)
		}

		rowNum := i - headerIdx + 1
		contact := domain.Contact{
			Name:  cell(row, columns, fieldName),
			Phone: cell(row, columns, fieldPhone),
			City:  cell(row, columns, fieldCity),
			Email: cell(row, columns, fieldEmail),
			Notes: cell(row, columns, fieldNotes),
		}

		if contact.Name == "" {
			report.Errors = append(report.Errors, fmt.Sprintf("Row %d: Name is required", rowNum))
			continue
		}
		if !phone.Valid(contact.Phone) {
			report.Errors = append(report.Errors, fmt.Sprintf("Row %d: Invalid phone number %q", rowNum, contact.Phone))
			continue
		}

		report.Contacts = append(report.Contacts, contact)
	}
	report.ValidRows = len(report.Contacts)

	return report, nil
}

func resolveColumns(header []string) map[field]int {
	normalized := make(map[string]int, len(header))
	for idx, h := range header {
		key := normalizeHeader(h)
		if key == "" {
			continue
		}
		if _, seen := normalized[key]; !seen {
			normalized[key] = idx
		}
	}

	columns := make(map[field]int, len(headerAliases))
	for f, aliases := range headerAliases {
		for _, alias := range aliases {
			if idx, ok := normalized[alias]; ok {
				columns[f] = idx
				break
			}
		}
	}
	return columns
}

func normalizeHeader(h string) string {
	h = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
	return strings.NewReplacer(" ", "", "_", "", "-", "", ".", "").Replace(h)
}

func cell(row []string, columns map[field]int, f field) string {
	idx, ok := columns[f]
	if !ok || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}

func blank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
