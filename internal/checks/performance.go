package checks

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ibushimaru/chrome-extension-test-framework-sub000/internal/model"
	"github.com/ibushimaru/chrome-extension-test-framework-sub000/internal/suite"
)

// Size budgets for the packaged extension.
const (
	FileSizeBudget  = 1 << 20
	TotalSizeBudget = 10 << 20
)

// Issue types reported by the performance suite.
const (
	IssueFileTooLarge      = "file-too-large"
	IssueTotalSizeExceeded = "total-size-exceeded"
)

// PerformanceSuite runs the performance rules and the size budget.
func (s *Set) PerformanceSuite() *suite.Suite {
	st := suite.New("performance", "Performance checks").WithCategory(model.CategoryPerformance)
	s.addRuleCases(st, model.CategoryPerformance)
	st.Test("file-size-budget", s.checkFileSizes)
	return st
}

func (s *Set) checkFileSizes(ctx context.Context, tc *suite.TestContext) error {
	files, err := s.scanner.Files(ctx)
	if err != nil {
		return err
	}

	var issues []model.Issue
	var total int64
	for _, rel := range files {
		info, err := os.Stat(filepath.Join(s.scanner.Root(), filepath.FromSlash(rel)))
		if err != nil {
			continue
		}
		total += info.Size()
		if info.Size() > FileSizeBudget {
			issues = append(issues, model.Issue{
				Type:       IssueFileTooLarge,
				File:       rel,
				Line:       1,
				Category:   model.CategoryPerformance,
				Message:    fmt.Sprintf("File is %s, over the %s budget", humanSize(info.Size()), humanSize(FileSizeBudget)),
				Suggestion: "Minify, compress or lazy-load large assets",
			})
		}
	}
	if total > TotalSizeBudget {
		issues = append(issues, model.Issue{
			Type:     IssueTotalSizeExceeded,
			File:     ".",
			Line:     1,
			Category: model.CategoryPerformance,
			Message:  fmt.Sprintf("Extension totals %s, over the %s budget", humanSize(total), humanSize(TotalSizeBudget)),
		})
	}
	return s.fail("file-size-budget", issues)
}

func humanSize(n int64) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KB", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%d B", n)
	}
}
