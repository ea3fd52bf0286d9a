package output

import (
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/sofmeright/dockrun/src/build"
	"github.com/sofmeright/dockrun/src/runner"
)

// CI environment detection.

func IsCI() bool {
	return os.Getenv("CI") == "true"
}

func IsGitLabCI() bool {
	return os.Getenv("GITLAB_CI") == "true"
}

// GitLab collapsible section helpers.

func SectionStart(w io.Writer, id, name string) {
	if !IsGitLabCI() {
		return
	}
	fmt.Fprintf(w, "\033[0Ksection_start:%d:%s\r\033[0K%s\n", time.Now().Unix(), id, name)
}

func SectionEnd(w io.Writer, id string) {
	if !IsGitLabCI() {
		return
	}
	fmt.Fprintf(w, "\033[0Ksection_end:%d:%s\r\033[0K\n", time.Now().Unix(), id)
}

// SectionStartCollapsed starts a section that is collapsed by default.
func SectionStartCollapsed(w io.Writer, id, name string) {
	if !IsGitLabCI() {
		return
	}
	fmt.Fprintf(w, "\033[0Ksection_start:%d:%s[collapsed=true]\r\033[0K%s\n", time.Now().Unix(), id, name)
}

// CIContext returns the pipeline identity from CI variables, for use with
// ContextBlock.
func CIContext() []KV {
	var kv []KV
	add := func(key, env string) {
		if v := os.Getenv(env); v != "" {
			kv = append(kv, KV{Key: key, Value: v})
		}
	}
	add("pipeline", "CI_PIPELINE_ID")
	add("job", "CI_JOB_NAME")
	if sha := os.Getenv("CI_COMMIT_SHORT_SHA"); sha != "" {
		kv = append(kv, KV{Key: "sha", Value: sha})
	} else if sha := os.Getenv("CI_COMMIT_SHA"); len(sha) >= 8 {
		kv = append(kv, KV{Key: "sha", Value: sha[:8]})
	}
	add("ref", "CI_COMMIT_REF_NAME")
	add("runner", "CI_RUNNER_DESCRIPTION")
	return kv
}

// JUnit XML types for GitLab test reporting.

type JUnitTestSuites struct {
	XMLName  xml.Name         `xml:"testsuites"`
	Name     string           `xml:"name,attr"`
	Tests    int              `xml:"tests,attr"`
	Failures int              `xml:"failures,attr"`
	Time     string           `xml:"time,attr"`
	Suites   []JUnitTestSuite `xml:"testsuite"`
}

type JUnitTestSuite struct {
	Name     string          `xml:"name,attr"`
	Tests    int             `xml:"tests,attr"`
	Failures int             `xml:"failures,attr"`
	Time     string          `xml:"time,attr"`
	Cases    []JUnitTestCase `xml:"testcase"`
}

type JUnitTestCase struct {
	Name      string        `xml:"name,attr"`
	Classname string        `xml:"classname,attr"`
	Time      string        `xml:"time,attr"`
	Failure   *JUnitFailure `xml:"failure,omitempty"`
}

type JUnitFailure struct {
	Message string `xml:"message,attr"`
	Type    string `xml:"type,attr"`
	Body    string `xml:",chardata"`
}

func seconds(d time.Duration) string {
	return fmt.Sprintf("%.3f", d.Seconds())
}

// RunJUnit converts run results into JUnit suites. Each run becomes a
// suite and each plugin invocation a test case. A phase that failed
// before any plugin ran is reported as a case named after the phase.
func RunJUnit(results []runner.JobResult, elapsed time.Duration) JUnitTestSuites {
	root := JUnitTestSuites{Name: "dockrun", Time: seconds(elapsed)}

	for _, jr := range results {
		suite := JUnitTestSuite{Name: "dockrun/" + jr.Job}
		addCase := func(tc JUnitTestCase) {
			suite.Cases = append(suite.Cases, tc)
			suite.Tests++
			if tc.Failure != nil {
				suite.Failures++
			}
		}

		if jr.Result == nil {
			tc := JUnitTestCase{Name: "run", Classname: "dockrun." + jr.Job, Time: "0.000"}
			if jr.Err != nil {
				tc.Failure = &JUnitFailure{Message: jr.Err.Error(), Type: "error"}
			}
			addCase(tc)
		} else {
			suite.Time = seconds(jr.Result.Duration)
			for _, pr := range jr.Result.Phases {
				class := "dockrun." + jr.Job + "." + pr.Phase.String()
				for _, entry := range pr.Log {
					tc := JUnitTestCase{Name: entry.Plugin, Classname: class, Time: seconds(entry.Duration)}
					if entry.Status == build.StatusFailed {
						tc.Failure = &JUnitFailure{
							Message: fmt.Sprintf("%s failed in %s", entry.Plugin, pr.Phase),
							Type:    entry.Kind.String(),
							Body:    entry.Error.Error(),
						}
					}
					addCase(tc)
				}
				if pr.Failed() && len(pr.Log) == 0 {
					addCase(JUnitTestCase{
						Name:      pr.Phase.String(),
						Classname: class,
						Time:      seconds(pr.Duration),
						Failure:   &JUnitFailure{Message: pr.Err.Error(), Type: build.KindOf(pr.Err).String()},
					})
				}
			}
		}

		root.Tests += suite.Tests
		root.Failures += suite.Failures
		root.Suites = append(root.Suites, suite)
	}
	return root
}

// WriteRunJUnit writes run results as JUnit XML to dir/dockrun.xml.
func WriteRunJUnit(dir string, results []runner.JobResult, elapsed time.Duration) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating report dir: %w", err)
	}

	path := filepath.Join(dir, "dockrun.xml")
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	defer f.Close()

	if _, err := io.WriteString(f, xml.Header); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	enc := xml.NewEncoder(f)
	enc.Indent("", "  ")
	if err := enc.Encode(RunJUnit(results, elapsed)); err != nil {
		return fmt.Errorf("encoding junit xml: %w", err)
	}
	if _, err := io.WriteString(f, "\n"); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return f.Close()
}
