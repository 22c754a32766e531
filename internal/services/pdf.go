package services

import (
	"errors"
	"fmt"
	"io"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

var errEmptyPDF = errors.New("pdf has no pages")

// inspectPDF validates rs in relaxed mode and returns its page count.
func inspectPDF(rs io.ReadSeeker) (int, error) {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	pages, err := api.PageCount(rs, conf)
	if err != nil {
		return 0, fmt.Errorf("pdfcpu: %w", err)
	}
	if pages == 0 {
		return 0, errEmptyPDF
	}
	return pages, nil
}
