// internal/suite/cases.go
package suite

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/xkilldash9x/exegenesis-harness/internal/scenario"
)

// Theme classes the application toggles on its root element. Exactly one is
// active at any time.
const (
	ThemeLight = "light-theme"
	ThemeDark  = "cyber-theme"
)

// Elements of the application under test. Each locator lists its fallbacks
// in the order they are tried.
var (
	RootElement = scenario.CSS("body")
	ThemeToggle = scenario.ID("themeToggle").Or(scenario.CSS(".theme-toggle"))

	// AdvancedToggle is the disclosure button labelled "advanced ...".
	AdvancedToggle  = scenario.Text("button", advancedLabel).Or(advancedOutline)
	advancedOutline = scenario.XPath(
		"//*[contains(concat(' ', normalize-space(@class), ' '), ' button-outline ')]" +
			"[contains(translate(normalize-space(.), 'ABCDEFGHIJKLMNOPQRSTUVWXYZ', 'abcdefghijklmnopqrstuvwxyz'), 'advanced')]")

	SubmitButton = scenario.CSS(`button[type="submit"].button-full`).Or(scenario.XPath("//button[@type='submit']"))
)

// Form field contract: the required minimum and the advanced set, whose
// members may or may not be rendered.
var (
	RequiredFields = []string{"goal", "audience"}
	AdvancedFields = []string{
		"outputType", "tone", "length", "constraints", "role", "example", "framework",
		"aiModel", "context", "action", "result", "task", "style", "knowledge",
	}
	// DisclosedFields must appear once the advanced section is opened.
	DisclosedFields = []string{"constraints", "role", "example"}
)

const advancedLabel = "advanced"

// disclosureWait bounds the wait for advanced fields in the submission
// scenario, where the section is optional.
const disclosureWait = time.Second

// Sample values submitted by the round-trip scenario.
const (
	SampleGoal     = "Write a linked post"
	SampleAudience = "estate planners"
)

// Field locates a form control by name, falling back to an element id.
func Field(name string) scenario.Locator {
	return scenario.Name(name).Or(scenario.ID(name))
}

// Case is a scenario template bound to the target URL at run time.
type Case struct {
	Name         string
	NeedsCapture bool
	Build        func(opts Options) scenario.Scenario
}

// Options parameterize case construction.
type Options struct {
	TargetURL string
	// Screenshots adds labelled screenshots to passing runs.
	Screenshots bool
}

// Cases returns the scenarios of the suite, in run order.
func Cases() []Case {
	return []Case{
		{Name: "theme-toggle", Build: themeToggleScenario},
		{Name: "advanced-fields", Build: advancedFieldsScenario},
		{Name: "submit-capture", NeedsCapture: true, Build: submitCaptureScenario},
	}
}

// Select filters cases by name, keeping suite order. An empty list selects all.
func Select(cases []Case, only []string) ([]Case, error) {
	if len(only) == 0 {
		return cases, nil
	}
	wanted := make(map[string]bool, len(only))
	for _, name := range only {
		wanted[strings.TrimSpace(name)] = true
	}
	var out []Case
	for _, c := range cases {
		if wanted[c.Name] {
			out = append(out, c)
			delete(wanted, c.Name)
		}
	}
	if len(wanted) > 0 {
		return nil, fmt.Errorf("unknown scenarios: %s", strings.Join(slices.Sorted(maps.Keys(wanted)), ", "))
	}
	return out, nil
}

func themeToggleScenario(opts Options) scenario.Scenario {
	steps := []scenario.Step{
		scenario.Navigate(opts.TargetURL),
		scenario.WaitFor(ThemeToggle, 0),
	}
	if opts.Screenshots {
		steps = append(steps, scenario.Screenshot("theme-before"))
	}
	steps = append(steps, scenario.AssertThemeToggle(RootElement, ThemeToggle, [2]string{ThemeLight, ThemeDark}, 0))
	if opts.Screenshots {
		steps = append(steps, scenario.Screenshot("theme-after"))
	}
	return scenario.Scenario{Name: "theme-toggle", Steps: steps}
}

func advancedFieldsScenario(opts Options) scenario.Scenario {
	present := make([]scenario.Locator, len(DisclosedFields))
	for i, name := range DisclosedFields {
		present[i] = Field(name)
	}
	return scenario.Scenario{
		Name: "advanced-fields",
		Steps: []scenario.Step{
			scenario.Navigate(opts.TargetURL),
			scenario.WaitFor(AdvancedToggle, 0),
			scenario.OpenDisclosure(advancedLabel, advancedOutline),
			scenario.WaitFor(Field(DisclosedFields[len(DisclosedFields)-1]), 0),
			scenario.AssertPresent(present...),
		},
	}
}

func submitCaptureScenario(opts Options) scenario.Scenario {
	return scenario.Scenario{
		Name: "submit-capture",
		Steps: []scenario.Step{
			scenario.Navigate(opts.TargetURL),
			scenario.WaitFor(Field("goal"), 0),
			scenario.Instrument(),
			scenario.Fill(Field("goal"), SampleGoal),
			scenario.Fill(Field("audience"), SampleAudience),
			scenario.Optional(scenario.OpenDisclosure(advancedLabel, advancedOutline)),
			scenario.Optional(scenario.WaitFor(Field("role"), disclosureWait)),
			scenario.Optional(scenario.Fill(Field("role"), "Content writer")),
			scenario.Optional(scenario.Fill(Field("constraints"), "Be concise")),
			scenario.SnapshotInputs(AdvancedFields...),
			scenario.Click(SubmitButton),
			scenario.WaitForCapture(0),
			scenario.AssertSchema(RequiredFields, AdvancedFields),
			scenario.AssertPayload(map[string]string{"goal": SampleGoal, "audience": SampleAudience}),
		},
	}
}
