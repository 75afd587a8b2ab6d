package export

import (
	"bytes"
	"fmt"

	"github.com/gomarkdown/markdown"
	"github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"

	"racefit/internal/diagnostics"
)

const reportTitle = "Convergence report"

// RenderMarkdown writes the textual convergence report
func RenderMarkdown(runID string, r *diagnostics.Report) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "# %s\n\n", reportTitle)
	if runID != "" {
		fmt.Fprintf(&b, "Run `%s`: %d chains × %d draws.\n\n", runID, r.Chains, r.Draws)
	} else {
		fmt.Fprintf(&b, "%d chains × %d draws.\n\n", r.Chains, r.Draws)
	}

	if len(r.BlockingWarnings) > 0 {
		b.WriteString("## Blocking warnings\n\n")
		for _, w := range r.BlockingWarnings {
			fmt.Fprintf(&b, "- **%s**\n", w)
		}
		b.WriteString("\n")
	}

	b.WriteString("## Sampler\n\n")
	b.WriteString("| metric | value |\n|---|---|\n")
	fmt.Fprintf(&b, "| divergences | %d (%s%%, %s) |\n", r.Divergences, fToStr(100*r.DivergenceRate, 2), r.DivergenceVerdict)
	for c, d := range r.DivergencesPerChain {
		step := ""
		if c < len(r.StepSizes) {
			step = fToStr(r.StepSizes[c], 4)
		}
		fmt.Fprintf(&b, "| chain %d | %d divergent, step size %s |\n", c, d, step)
	}
	fmt.Fprintf(&b, "| mean acceptance | %s |\n", fToStr(r.MeanAccept, 3))
	fmt.Fprintf(&b, "| max tree depth hits | %d of %d (limit %d) |\n", r.TreeDepthHits, r.Chains*r.Draws, r.MaxTreeDepth)
	fmt.Fprintf(&b, "| R-hat ≥ %.2f | %d parameters |\n", diagnostics.RhatAcceptable, r.NonConverged)
	fmt.Fprintf(&b, "| ESS < %d | %d parameters |\n\n", diagnostics.ESSMarginal, r.PoorESS)

	if len(r.Remediation) > 0 {
		b.WriteString("## Remediation\n\n")
		for _, m := range r.Remediation {
			fmt.Fprintf(&b, "- %s\n", m)
		}
		b.WriteString("\n")
	}

	if len(r.DataWarnings) > 0 {
		b.WriteString("## Data warnings\n\n")
		for _, w := range r.DataWarnings {
			fmt.Fprintf(&b, "- %s\n", w)
		}
		b.WriteString("\n")
	}

	b.WriteString("## Parameters\n\n")
	b.WriteString("| parameter | R-hat | verdict | bulk ESS | tail ESS | verdict |\n|---|---|---|---|---|---|\n")
	for _, p := range r.Worst(len(r.Params)) {
		fmt.Fprintf(&b, "| `%s` | %s | %s | %s | %s | %s |\n",
			p.Name, fToStr(p.Rhat, 3), p.RhatVerdict, fToStr(p.ESS, 0), fToStr(p.TailESS, 0), p.ESSVerdict)
	}
	return b.Bytes()
}

// RenderHTML converts the markdown report into a standalone page
func RenderHTML(md []byte) []byte {
	p := parser.NewWithExtensions(parser.CommonExtensions)
	renderer := html.NewRenderer(html.RendererOptions{
		Flags: html.CommonFlags | html.CompletePage,
		Title: reportTitle,
	})
	return markdown.ToHTML(append([]byte(nil), md...), p, renderer)
}
