package extract

import (
	"fmt"
	"io"

	"github.com/ledongthuc/pdf"
)

func extractPDF(path string) (text string, err error) {
	// The parser panics on some malformed cross-reference tables.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("parsing pdf %s: %v", path, r)
		}
	}()

	f, r, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening pdf %s: %w", path, err)
	}
	defer f.Close()

	plain, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("reading pdf %s: %w", path, err)
	}
	data, err := io.ReadAll(io.LimitReader(plain, MaxBytes))
	if err != nil {
		return "", fmt.Errorf("reading pdf %s: %w", path, err)
	}
	return string(data), nil
}
