package extractor

import (
	"errors"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"

	apperrors "github.com/acme/outbound-call-queue/pkg/errors"
)

func TestExtractCSVWithAliases(t *testing.T) {
	data := "Full Name,Mobile Number,Location,E-mail,Remarks\n" +
		"Asha Rao,98765 43210,Pune,asha@example.com,call after 5\n" +
		",9876500000,Delhi,,\n" +
		"Ravi,12345,Mumbai,,\n" +
		",,,,\n" +
		"John,+1 202-555-0173,,,\n"

	report, err := Extract("contacts.csv", strings.NewReader(data), Options{})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}

	if report.TotalRows != 4 {
		t.Fatalf("expected 4 non-blank rows, got %d", report.TotalRows)
	}
	if report.ValidRows != 2 {
		t.Fatalf("expected 2 valid rows, got %d", report.ValidRows)
	}
	if len(report.Errors) != 2 {
		t.Fatalf("expected 2 row errors, got %v", report.Errors)
	}
	if report.Errors[0] != "Row 3: Name is required" {
		t.Fatalf("unexpected first error: %q", report.Errors[0])
	}
	if !strings.HasPrefix(report.Errors[1], "Row 4: Invalid phone number") {
		t.Fatalf("unexpected second error: %q", report.Errors[1])
	}

	first := report.Contacts[0]
	if first.Name != "Asha Rao" || first.Phone != "98765 43210" || first.City != "Pune" || first.Email != "asha@example.com" || first.Notes != "call after 5" {
		t.Fatalf("unexpected contact: %+v", first)
	}
}

func TestExtractHeaderPriority(t *testing.T) {
	data := "contact,phone,name\n9876500001,9876543210,Meera\n"

	report, err := Extract("c.CSV", strings.NewReader(data), Options{})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if len(report.Contacts) != 1 || report.Contacts[0].Phone != "9876543210" {
		t.Fatalf("expected phone column to win over contact, got %+v", report.Contacts)
	}
}

func TestExtractMissingPhoneColumn(t *testing.T) {
	_, err := Extract("c.csv", strings.NewReader("name,city\nA,B\n"), Options{})
	if !errors.Is(err, apperrors.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestExtractUnsupportedType(t *testing.T) {
	_, err := Extract("c.pdf", strings.NewReader("x"), Options{})
	if !errors.Is(err, apperrors.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if Supported("c.pdf") || !Supported("C.XLSX") {
		t.Fatalf("unexpected Supported result")
	}
}

func TestExtractMaxRows(t *testing.T) {
	data := "name,phone\nA,9876543210\nB,9876543211\nC,9876543212\n"
	_, err := Extract("c.csv", strings.NewReader(data), Options{MaxRows: 2})
	if !errors.Is(err, apperrors.ErrValidation) {
		t.Fatalf("expected validation error for row cap, got %v", err)
	}
}

func TestExtractXLSX(t *testing.T) {
	f := excelize.NewFile()
	defer f.Close()

	rows := [][]any{
		{"Name", "Phone Number", "City"},
		{"Kiran", "9876543210", "Chennai"},
		{"Bad", "000", ""},
	}
	for i, row := range rows {
		cellRef, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			t.Fatalf("cell name: %v", err)
		}
		if err := f.SetSheetRow("Sheet1", cellRef, &row); err != nil {
			t.Fatalf("set row: %v", err)
		}
	}
	buf, err := f.WriteToBuffer()
	if err != nil {
		t.Fatalf("write buffer: %v", err)
	}

	report, err := Extract("contacts.xlsx", buf, Options{})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if report.TotalRows != 2 || report.ValidRows != 1 {
		t.Fatalf("unexpected report: %+v", report)
	}
	if report.Contacts[0].City != "Chennai" {
		t.Fatalf("unexpected contact: %+v", report.Contacts[0])
	}
}
