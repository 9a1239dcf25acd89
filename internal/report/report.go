package report

import (
	"bytes"
	"fmt"
	"html"
	"strings"

	"gorisk/domain/simulation"
	"gorisk/internal/profiling"

	"github.com/gomarkdown/markdown"
	mdhtml "github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"
)

// Format selects the report output
type Format string

const (
	FormatMarkdown Format = "markdown"
	FormatHTML     Format = "html"
)

// ParseFormat accepts "markdown", "md" and "html".
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "", "markdown", "md":
		return FormatMarkdown, nil
	case "html":
		return FormatHTML, nil
	}
	return "", fmt.Errorf("unknown report format %q", s)
}

// Generator renders run reports.
type Generator struct {
	profiler *profiling.OutputProfiler
}

// NewGenerator creates a report generator
func NewGenerator() *Generator {
	return &Generator{profiler: profiling.NewOutputProfiler()}
}

// Simulation renders a Monte Carlo run report. sens may be nil.
func (g *Generator) Simulation(title string, r *simulation.SimulationResult, sens *simulation.SensitivityReport, format Format) []byte {
	return render(title, g.simulationMarkdown(title, r, sens), format)
}

// MCMC renders an MCMC run report. diag may be nil.
func (g *Generator) MCMC(title string, r *simulation.MCMCSamplingResult, diag *simulation.ConvergenceDiagnostics, format Format) []byte {
	return render(title, mcmcMarkdown(title, r, diag), format)
}

func (g *Generator) simulationMarkdown(title string, r *simulation.SimulationResult, sens *simulation.SensitivityReport) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "# %s\n\n", title)
	fmt.Fprintf(&b, "- **Run:** `%s`\n", r.RunID)
	fmt.Fprintf(&b, "- **Method:** %s, %d of %d draws evaluated, seed %d\n",
		r.Method, r.Metadata.EvaluatedSamples, r.Metadata.RequestedSamples, r.Metadata.Seed)
	fmt.Fprintf(&b, "- **Failures:** %d (%.2f%%)\n", len(r.Failures), 100*r.Metadata.FailureRate)
	if r.Converged {
		fmt.Fprintf(&b, "- **Converged:** yes, at %d draws\n", r.ConvergedAt)
	} else {
		b.WriteString("- **Converged:** no\n")
	}
	if r.Incomplete {
		b.WriteString("- **Incomplete:** the run was cancelled before all draws were evaluated\n")
	}

	b.WriteString("\n## Outputs\n\n")
	b.WriteString("| Output | Mean | Std error | P05 | Median | P95 | P99 |\n")
	b.WriteString("|---|---:|---:|---:|---:|---:|---:|\n")
	for _, name := range r.OutputNames {
		s := r.Summaries[name]
		fmt.Fprintf(&b, "| %s | %s | %s | %s | %s | %s | %s |\n", name,
			num(s.Mean.Value()), num(s.StdError.Value()), num(s.P05.Value()),
			num(s.Median.Value()), num(s.P95.Value()), num(s.P99.Value()))
	}

	if profiles, err := g.profiler.ProfileResult(r); err == nil && len(profiles) > 0 {
		b.WriteString("\n## Output shape\n\n")
		b.WriteString("| Output | Skewness | Kurtosis | Outliers | Jarque-Bera p | Normal |\n")
		b.WriteString("|---|---:|---:|---:|---:|---|\n")
		for _, p := range profiles {
			fmt.Fprintf(&b, "| %s | %s | %s | %d | %s | %s |\n", p.Name,
				num(p.Summary.Skewness.Value()), num(p.Summary.Kurtosis.Value()),
				p.Outliers, num(p.NormalityP), yesNo(p.IsNormal))
		}
	}

	if sens != nil {
		writeSensitivity(&b, sens)
	}

	if len(r.Strata) > 0 {
		b.WriteString("\n## Strata\n\n")
		b.WriteString("| Stratum | Weight | Draws | Failures |")
		for _, name := range r.OutputNames {
			fmt.Fprintf(&b, " %s |", name)
		}
		b.WriteString("\n|---|---:|---:|---:|" + strings.Repeat("---:|", len(r.OutputNames)) + "\n")
		for _, st := range r.Strata {
			fmt.Fprintf(&b, "| %s | %s | %d | %d |", st.Stratum.Name, num(st.Weight), st.Draws, st.Failures)
			for _, name := range r.OutputNames {
				fmt.Fprintf(&b, " %s |", num(st.Means[name].Value()))
			}
			b.WriteString("\n")
		}
	}

	if n := len(r.ConvergenceHistory); n > 0 {
		b.WriteString("\n## Convergence\n\n")
		b.WriteString("| Draws | Output | Mean | Std error | Relative change |\n")
		b.WriteString("|---:|---|---:|---:|---:|\n")
		for _, cp := range r.ConvergenceHistory {
			for _, name := range r.OutputNames {
				rs := cp.Outputs[name]
				fmt.Fprintf(&b, "| %d | %s | %s | %s | %s |\n", cp.Draws, name,
					num(rs.Mean.Value()), num(rs.StdError.Value()), num(rs.RelativeChange.Value()))
			}
		}
	}
	return b.Bytes()
}

func writeSensitivity(b *bytes.Buffer, sens *simulation.SensitivityReport) {
	b.WriteString("\n## Drivers\n")
	for _, out := range sens.Outputs {
		fmt.Fprintf(b, "\n### %s (%d draws)\n\n", out.Output, out.Draws)
		b.WriteString("| Parameter |")
		for _, m := range sens.Measures {
			fmt.Fprintf(b, " %s | p |", m)
		}
		b.WriteString(" Signal |\n|---|" + strings.Repeat("---:|---:|", len(sens.Measures)) + "---|\n")
		for _, p := range out.Parameters {
			fmt.Fprintf(b, "| %s |", p.Parameter)
			signal := ""
			for _, name := range sens.Measures {
				m, _ := p.Measure(name)
				fmt.Fprintf(b, " %s | %s |", num(m.Effect.Value()), num(m.PValue.Value()))
				if signal == "" {
					signal = m.Signal
				}
			}
			fmt.Fprintf(b, " %s |\n", signal)
		}
	}
}

func mcmcMarkdown(title string, r *simulation.MCMCSamplingResult, diag *simulation.ConvergenceDiagnostics) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "# %s\n\n", title)
	fmt.Fprintf(&b, "- **Run:** `%s`\n", r.RunID)
	fmt.Fprintf(&b, "- **Kernel:** %s, %d chains of %d draws after %d tuning steps, seed %d\n",
		r.Metadata.Kernel, r.NChains, r.NDraws, r.NTune, r.Metadata.Seed)
	fmt.Fprintf(&b, "- **Acceptance rate:** %s\n", num(r.AcceptanceRate))
	fmt.Fprintf(&b, "- **Divergences:** %d\n", r.Divergences)
	if r.Incomplete {
		b.WriteString("- **Incomplete:** sampling was cancelled and chains were truncated\n")
	}

	if diag != nil {
		fmt.Fprintf(&b, "- **Converged:** %s\n", yesNo(diag.Converged))
		b.WriteString("\n## Diagnostics\n\n")
		b.WriteString("| Parameter | Mean | Std dev | MCSE | R-hat | ESS bulk | ESS tail | Geweke Z |\n")
		b.WriteString("|---|---:|---:|---:|---:|---:|---:|---:|\n")
		for _, p := range diag.Parameters {
			fmt.Fprintf(&b, "| %s | %s | %s | %s | %s | %s | %s | %s |\n", p.Name,
				num(p.Mean.Value()), num(p.StdDev.Value()), num(p.MCSE.Value()), num(p.RHat.Value()),
				num(p.ESSBulk.Value()), num(p.ESSTail.Value()), num(p.GewekeZ.Value()))
		}
		if len(diag.Vectors) > 0 {
			b.WriteString("\n| Vector | Size | Max R-hat | Min ESS bulk | Min ESS tail |\n")
			b.WriteString("|---|---:|---:|---:|---:|\n")
			for _, v := range diag.Vectors {
				fmt.Fprintf(&b, "| %s | %d | %s | %s | %s |\n", v.Base, v.Size,
					num(v.MaxRHat.Value()), num(v.MinESSBulk.Value()), num(v.MinESSTail.Value()))
			}
		}
	}

	b.WriteString("\n## Chains\n\n")
	b.WriteString("| Chain | Acceptance | Divergences | Step size | Init attempts |\n")
	b.WriteString("|---:|---:|---:|---:|---:|\n")
	for _, ch := range r.Chains {
		fmt.Fprintf(&b, "| %d | %s | %d | %s | %d |\n", ch.Index, num(ch.AcceptanceRate), ch.Divergences, num(ch.StepSize), ch.InitAttempts)
	}

	warnings := append([]string(nil), r.Metadata.Warnings...)
	if diag != nil {
		warnings = append(warnings, diag.Warnings...)
	}
	if len(warnings) > 0 {
		b.WriteString("\n## Warnings\n\n")
		for _, w := range warnings {
			fmt.Fprintf(&b, "- %s\n", w)
		}
	}
	return b.Bytes()
}

// render returns md unchanged or converts it into a standalone HTML page.
func render(title string, md []byte, format Format) []byte {
	if format != FormatHTML {
		return md
	}
	p := parser.NewWithExtensions(parser.CommonExtensions | parser.AutoHeadingIDs)
	renderer := mdhtml.NewRenderer(mdhtml.RendererOptions{Flags: mdhtml.CommonFlags | mdhtml.HrefTargetBlank})
	body := markdown.ToHTML(md, p, renderer)

	var b bytes.Buffer
	b.WriteString("<!DOCTYPE html>\n<html>\n<head>\n<meta charset=\"utf-8\">\n")
	fmt.Fprintf(&b, "<title>%s</title>\n", html.EscapeString(title))
	b.WriteString("<style>body{font-family:sans-serif;max-width:70em;margin:2em auto}table{border-collapse:collapse}td,th{border:1px solid #ccc;padding:.3em .6em}</style>\n")
	b.WriteString("</head>\n<body>\n")
	b.Write(body)
	b.WriteString("</body>\n</html>\n")
	return b.Bytes()
}

func num(v float64) string {
	return fmt.Sprintf("%.4g", v)
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}
