package model

import "fmt"

// Block is a contiguous run of the unconstrained position vector
type Block struct {
	Name   string
	Offset int
	Size   int
}

// At returns the absolute index of element i of the block
func (b Block) At(i int) int { return b.Offset + i }

// Layout maps named parameter blocks onto one flat arena. Every block is
// addressed by offset so the sampler only ever sees a []float64.
type Layout struct {
	MuT0       Block // per cell, logit scale
	LogSigmaT0 Block
	ZT0        Block // participant × cell, index p*nCells + c

	MuA       Block
	LogSigmaA Block
	ZA        Block

	MuGap        Block
	BetaPressure Block
	LogSigmaGap  Block
	ZGap         Block

	MuVC           Block
	BetaDifficulty Block
	LogSigmaVC     Block
	ZVC            Block

	MuVE Block

	dim   int
	names []string
}

type layoutBuilder struct {
	offset int
	names  []string
}

func (lb *layoutBuilder) scalar(name string) Block {
	return lb.vector(name, []string{""})
}

func (lb *layoutBuilder) vector(name string, labels []string) Block {
	b := Block{Name: name, Offset: lb.offset, Size: len(labels)}
	for _, l := range labels {
		if l == "" {
			lb.names = append(lb.names, name)
		} else {
			lb.names = append(lb.names, fmt.Sprintf("%s[%s]", name, l))
		}
	}
	lb.offset += len(labels)
	return b
}

// NewLayout builds the arena for the given participant and cell labels.
// effect prefixes the participant-effect blocks ("z" for standardized
// offsets, "u" for raw effects).
func NewLayout(participants, cells []string, effect string) *Layout {
	pc := make([]string, 0, len(participants)*len(cells))
	for _, p := range participants {
		for _, c := range cells {
			pc = append(pc, p+","+c)
		}
	}

	lb := &layoutBuilder{}
	l := &Layout{}
	l.MuT0 = lb.vector("mu_t0", cells)
	l.LogSigmaT0 = lb.scalar("log_sigma_t0")
	l.ZT0 = lb.vector(effect+"_t0", pc)

	l.MuA = lb.scalar("mu_A")
	l.LogSigmaA = lb.scalar("log_sigma_A")
	l.ZA = lb.vector(effect+"_A", participants)

	l.MuGap = lb.scalar("mu_gap")
	l.BetaPressure = lb.scalar("beta_pressure")
	l.LogSigmaGap = lb.scalar("log_sigma_gap")
	l.ZGap = lb.vector(effect+"_gap", participants)

	l.MuVC = lb.scalar("mu_vc")
	l.BetaDifficulty = lb.scalar("beta_difficulty")
	l.LogSigmaVC = lb.scalar("log_sigma_vc")
	l.ZVC = lb.vector(effect+"_vc", participants)

	l.MuVE = lb.scalar("mu_ve")

	l.dim = lb.offset
	l.names = lb.names
	return l
}

// Dim is the length of the unconstrained vector
func (l *Layout) Dim() int { return l.dim }

// Names returns one name per unconstrained coordinate
func (l *Layout) Names() []string {
	return append([]string(nil), l.names...)
}
