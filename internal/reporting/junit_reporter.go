package reporting

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/beevik/etree"

	"github.com/xkilldash9x/locus/internal/discovery"
)

// JUnitReporter renders discovery runs as JUnit XML so CI systems can show
// mapped steps as passing tests and the halting step as a failure. Each
// scenario becomes a testsuite and each attempted step a testcase.
type JUnitReporter struct {
	mu      sync.Mutex
	writer  io.WriteCloser
	version string
	reports []*discovery.Report
	closed  bool
}

func NewJUnitReporter(w io.WriteCloser, toolVersion string) *JUnitReporter {
	return &JUnitReporter{writer: w, version: toolVersion}
}

func (r *JUnitReporter) Write(report *discovery.Report) error {
	if report == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return fmt.Errorf("junit reporter already closed")
	}
	r.reports = append(r.reports, report)
	return nil
}

func (r *JUnitReporter) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true

	doc := r.document()
	_, writeErr := doc.WriteTo(r.writer)
	closeErr := r.writer.Close()
	if writeErr != nil {
		return fmt.Errorf("failed to write junit report: %w", writeErr)
	}
	return closeErr
}

func (r *JUnitReporter) document() *etree.Document {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)

	root := doc.CreateElement("testsuites")
	root.CreateAttr("name", ToolName)
	var tests, failures, errs, skipped int
	for _, rep := range r.reports {
		suite := root.CreateElement("testsuite")
		t, f, e, s := fillSuite(suite, rep, r.version)
		tests += t
		failures += f
		errs += e
		skipped += s
	}
	root.CreateAttr("tests", strconv.Itoa(tests))
	root.CreateAttr("failures", strconv.Itoa(failures))
	root.CreateAttr("errors", strconv.Itoa(errs))
	root.CreateAttr("skipped", strconv.Itoa(skipped))
	doc.Indent(2)
	return doc
}

func fillSuite(suite *etree.Element, rep *discovery.Report, version string) (tests, failures, errs, skipped int) {
	name := rep.Scenario
	if name == "" {
		name = "scenario"
	}
	suite.CreateAttr("name", name)

	props := suite.CreateElement("properties")
	prop := func(k, v string) {
		p := props.CreateElement("property")
		p.CreateAttr("name", k)
		p.CreateAttr("value", v)
	}
	prop("project_id", rep.ProjectID)
	prop("state", string(rep.State))
	prop("overall_confidence", strconv.FormatFloat(rep.OverallConfidence, 'f', 1, 64))
	prop("tool_version", version)

	for _, m := range rep.Mappings {
		tc := testcase(suite, name, m.StepNumber, m.Description)
		out := tc.CreateElement("system-out")
		out.SetText(fmt.Sprintf("%s %s via %s (confidence %d)", m.ActionType, m.Locator, m.Method, m.Confidence))
	}
	for _, u := range rep.Unmapped {
		tc := testcase(suite, name, u.StepNumber, u.Description)
		fail := tc.CreateElement("failure")
		fail.CreateAttr("message", u.Reason)
		fail.CreateAttr("type", "Unmapped")
		codes := make([]string, 0, len(u.Failures))
		for _, f := range u.Failures {
			codes = append(codes, f.Tier+"="+string(f.Code))
		}
		fail.SetText(strings.Join(codes, "\n"))
	}

	tests = len(rep.Mappings) + len(rep.Unmapped)
	failures = len(rep.Unmapped)
	skipped = rep.Skipped()
	if rep.State == discovery.StateFailed {
		errs = 1
		se := suite.CreateElement("system-err")
		se.SetText(rep.Error)
	}

	suite.CreateAttr("tests", strconv.Itoa(tests))
	suite.CreateAttr("failures", strconv.Itoa(failures))
	suite.CreateAttr("errors", strconv.Itoa(errs))
	suite.CreateAttr("skipped", strconv.Itoa(skipped))
	if !rep.StartedAt.IsZero() {
		suite.CreateAttr("timestamp", rep.StartedAt.UTC().Format("2006-01-02T15:04:05"))
		if !rep.FinishedAt.IsZero() {
			suite.CreateAttr("time", strconv.FormatFloat(rep.FinishedAt.Sub(rep.StartedAt).Seconds(), 'f', 3, 64))
		}
	}
	return tests, failures, errs, skipped
}

func testcase(suite *etree.Element, class string, step int, desc string) *etree.Element {
	tc := suite.CreateElement("testcase")
	tc.CreateAttr("classname", class)
	tc.CreateAttr("name", fmt.Sprintf("step %d: %s", step, desc))
	return tc
}
