// Package extract turns normalized report text into structured credit
// entities using ordered, first-match-wins regex tables.
package extract

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/bureau-cli/internal/model"
)

// Result is the output of one full extraction pass.
type Result struct {
	Entities *model.EntitySet
	// Skipped counts account blocks and inquiry pairs that could not be parsed.
	Skipped int
}

// Extractor runs the four entity extractors against a shared PatternSet.
type Extractor struct {
	patterns *PatternSet
}

// New creates an Extractor. A nil PatternSet uses DefaultPatterns.
func New(ps *PatternSet) *Extractor {
	if ps == nil {
		ps = DefaultPatterns()
	}
	return &Extractor{patterns: ps}
}

// Patterns returns the extractor's pattern tables.
func (e *Extractor) Patterns() *PatternSet {
	return e.patterns
}

// ExtractAll runs all four extractors concurrently over the same normalized
// text. The extractors are independent; each writes only its own slot.
func (e *Extractor) ExtractAll(ctx context.Context, text string) (*Result, error) {
	var (
		set               model.EntitySet
		acctSkip, inqSkip int
	)

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := gCtx.Err(); err != nil {
			return err
		}
		set.PersonalInfo = PersonalInfo(text, e.patterns)
		return nil
	})
	g.Go(func() error {
		if err := gCtx.Err(); err != nil {
			return err
		}
		set.Accounts, acctSkip = Accounts(text, e.patterns)
		return nil
	})
	g.Go(func() error {
		if err := gCtx.Err(); err != nil {
			return err
		}
		set.Inquiries, inqSkip = Inquiries(text, e.patterns)
		return nil
	})
	g.Go(func() error {
		if err := gCtx.Err(); err != nil {
			return err
		}
		set.NegativeItems = NegativeItems(text, e.patterns)
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "extract: entities")
	}

	res := &Result{Entities: &set, Skipped: acctSkip + inqSkip}
	if res.Skipped > 0 {
		zap.L().Debug("extract: skipped unparseable blocks",
			zap.Int("accounts", acctSkip),
			zap.Int("inquiries", inqSkip),
		)
	}
	return res, nil
}
