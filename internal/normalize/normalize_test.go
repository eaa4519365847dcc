package normalize

import "testing"

func TestFieldCollapsesWhitespaceAndControlChars(t *testing.T) {
	got, ok := Field(CategoryOrgName, "  National\x00 Institute\t\tof  Genetics  ")
	if !ok {
		t.Fatal("expected normalization to succeed")
	}
	if got != "National Institute of Genetics" {
		t.Errorf("got %q", got)
	}
}

func TestFieldEmptyRawFails(t *testing.T) {
	if _, ok := Field(CategoryOwnerName, ""); ok {
		t.Error("expected empty input to fail normalization")
	}
}

func TestFieldAllWhitespaceFails(t *testing.T) {
	if _, ok := Field(CategoryGrantAgency, "   \t  "); ok {
		t.Error("expected all-whitespace input to fail normalization")
	}
}

func TestFieldLocusTagShape(t *testing.T) {
	got, ok := Field(CategoryLocusTag, "ab_tag1")
	if !ok {
		t.Fatal("expected a valid locus tag to normalize")
	}
	if got != "AB_TAG1" {
		t.Errorf("expected uppercased locus tag, got %q", got)
	}
}

func TestFieldLocusTagRejectsLeadingDigit(t *testing.T) {
	if _, ok := Field(CategoryLocusTag, "1badtag"); ok {
		t.Error("expected a locus tag starting with a digit to fail")
	}
}

func TestFieldLocusTagRejectsTooLong(t *testing.T) {
	if _, ok := Field(CategoryLocusTag, "abcdefghijklmnopqrstuvwxyz"); ok {
		t.Error("expected an over-length locus tag to fail")
	}
}

func TestFieldUnknownCategoryFails(t *testing.T) {
	if _, ok := Field(Category("not_a_real_category"), "value"); ok {
		t.Error("expected an unrecognized category to fail")
	}
}
