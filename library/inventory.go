/*
inventory.go - Book counter rule

PURPOSE:
  Keeps a book's counters honest. Every path that writes a Book (create,
  patch, checkout, release, reconciliation) runs ApplyInventory first, so
  the derived fields can never drift from the two stored counters.

RULE:
  - TotalCopies must be >= 0.
  - CheckedOutCount below zero is clamped to zero.
  - CheckedOutCount above TotalCopies is REJECTED, never clamped down.
  - AvailableCopies = TotalCopies - CheckedOutCount (>= 0 after the above).
  - Status = Available when AvailableCopies > 0, else Out of Stock.

FROZEN FIELDS:
  ISBN and AddedDate cannot change after creation (ApplyBookPatch).

SEE ALSO:
  - circulation.go: checkout/release use these helpers
  - remediation.go: Reconcile overwrites CheckedOutCount through here
*/
package library

import (
	"strings"
)

// ApplyInventory validates and normalizes the book's counters in place,
// then recomputes AvailableCopies and Status.
func ApplyInventory(b *Book) error {
	if b.TotalCopies < 0 {
		return invalid("totalCopies", "must be >= 0, got %d", b.TotalCopies)
	}
	if b.CheckedOutCount < 0 {
		b.CheckedOutCount = 0
	}
	if b.CheckedOutCount > b.TotalCopies {
		return invalid("checkedOutCount", "%d exceeds totalCopies %d", b.CheckedOutCount, b.TotalCopies)
	}
	b.AvailableCopies = b.TotalCopies - b.CheckedOutCount
	if b.AvailableCopies > 0 {
		b.Status = BookAvailable
	} else {
		b.Status = BookOutOfStock
	}
	return nil
}

// ValidateBook checks the shape of a new book and applies the counter rule.
func ValidateBook(b *Book) error {
	b.Title = strings.TrimSpace(b.Title)
	b.Author = strings.TrimSpace(b.Author)
	b.ISBN = strings.TrimSpace(b.ISBN)
	if b.Title == "" {
		return invalid("title", "is required")
	}
	if b.Author == "" {
		return invalid("author", "is required")
	}
	if b.ISBN == "" {
		return invalid("isbn", "is required")
	}
	if b.Department == "" {
		b.Department = DeptGeneral
	}
	if !b.Department.Valid() {
		return invalid("department", "unknown department %q", b.Department)
	}
	if b.Status != "" && !b.Status.Valid() {
		return invalid("status", "unknown status %q", b.Status)
	}
	return ApplyInventory(b)
}

// BookPatch carries the fields a client may change. Nil means unchanged.
// ISBN and AddedDate are present only so attempts to change them can be
// rejected explicitly.
type BookPatch struct {
	Title           *string
	Author          *string
	Genre           *string
	Department      *Department
	Status          *BookStatus
	TotalCopies     *int
	CheckedOutCount *int
	ShelfLocation   *string
	ISBN            *string
	AddedDate       *string
}

// ApplyBookPatch merges a patch onto an existing book. The result has the
// counter rule applied; the input is not modified.
func ApplyBookPatch(existing Book, p BookPatch) (Book, error) {
	b := existing
	if p.ISBN != nil && strings.TrimSpace(*p.ISBN) != existing.ISBN {
		return existing, &ImmutableError{Kind: KindBook, Field: "isbn"}
	}
	if p.AddedDate != nil {
		return existing, &ImmutableError{Kind: KindBook, Field: "addedDate"}
	}
	if p.Title != nil {
		if strings.TrimSpace(*p.Title) == "" {
			return existing, invalid("title", "cannot be empty")
		}
		b.Title = strings.TrimSpace(*p.Title)
	}
	if p.Author != nil {
		if strings.TrimSpace(*p.Author) == "" {
			return existing, invalid("author", "cannot be empty")
		}
		b.Author = strings.TrimSpace(*p.Author)
	}
	if p.Genre != nil {
		b.Genre = *p.Genre
	}
	if p.Department != nil {
		if !p.Department.Valid() {
			return existing, invalid("department", "unknown department %q", *p.Department)
		}
		b.Department = *p.Department
	}
	if p.Status != nil && !p.Status.Valid() {
		// Status is derived; a valid value is accepted and then recomputed.
		return existing, invalid("status", "unknown status %q", *p.Status)
	}
	if p.TotalCopies != nil {
		b.TotalCopies = *p.TotalCopies
	}
	if p.CheckedOutCount != nil {
		b.CheckedOutCount = *p.CheckedOutCount
	}
	if p.ShelfLocation != nil {
		b.ShelfLocation = *p.ShelfLocation
	}
	if err := ApplyInventory(&b); err != nil {
		return existing, err
	}
	return b, nil
}

// checkout takes one copy. It fails with a not-available conflict when no
// copy is free.
func checkout(b *Book) error {
	if b.TotalCopies-b.CheckedOutCount < 1 {
		return conflict(CodeNotAvailable, "Book not available: %q has no free copies", b.Title)
	}
	b.CheckedOutCount++
	return ApplyInventory(b)
}

// release gives one copy back, never going below zero.
func release(b *Book) error {
	b.CheckedOutCount--
	return ApplyInventory(b)
}
