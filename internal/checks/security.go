package checks

import (
	"github.com/ibushimaru/chrome-extension-test-framework-sub000/internal/model"
	"github.com/ibushimaru/chrome-extension-test-framework-sub000/internal/suite"
)

// SecuritySuite runs one case per enabled security rule.
func (s *Set) SecuritySuite() *suite.Suite {
	st := suite.New("security", "Source security checks").WithCategory(model.CategorySecurity)
	s.addRuleCases(st, model.CategorySecurity)
	return st
}
