// Package validator asks a language model whether two questions request the
// same information. Anything other than a clear "yes" reads as not equivalent.
package validator

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/pario-ai/askcache/pkg/llm"
	"github.com/sirupsen/logrus"
)

// DefaultTimeout bounds a single validation call.
const DefaultTimeout = 10 * time.Second

// Verdict is the classified model reply.
type Verdict int

const (
	Unknown Verdict = iota
	Equivalent
	NotEquivalent
)

func (v Verdict) String() string {
	switch v {
	case Equivalent:
		return "equivalent"
	case NotEquivalent:
		return "not_equivalent"
	default:
		return "unknown"
	}
}

const promptTemplate = `You decide whether two questions about a dataset request exactly the same information.
Answer strictly with "yes" or "no" and nothing else.

Rules:
- Different numbers, limits, dates, years or thresholds mean "no".
- Different filters, groupings, entities or metrics mean "no".
- Negation or reversed comparisons mean "no".
- Rewording, synonyms, word order and politeness do not matter: "yes".

Examples:
Q1: What are the top 5 products by revenue?
Q2: What are the top 10 products by revenue?
Answer: no

Q1: How many orders were placed in 2023?
Q2: How many orders were placed in 2022?
Answer: no

Q1: Which players scored more than 10 goals?
Q2: Which players scored fewer than 10 goals?
Answer: no

Q1: Show me the total sales per region
Q2: What is the total amount sold in each region?
Answer: yes

Q1: List customers from Spain
Q2: Which customers are located in Spain?
Answer: yes

Now decide:
Q1: %s
Q2: %s
Answer:`

// Validator adjudicates question equivalence through an llm.Client.
type Validator struct {
	client  llm.Client
	timeout time.Duration
	log     logrus.FieldLogger
}

// Option configures a Validator.
type Option func(*Validator)

// WithTimeout sets the per-call timeout.
func WithTimeout(d time.Duration) Option {
	return func(v *Validator) {
		if d > 0 {
			v.timeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(v *Validator) {
		if l != nil {
			v.log = l
		}
	}
}

// New creates a Validator.
func New(client llm.Client, opts ...Option) *Validator {
	v := &Validator{
		client:  client,
		timeout: DefaultTimeout,
		log:     logrus.StandardLogger(),
	}
	for _, o := range opts {
		o(v)
	}
	return v
}

// Prompt renders the instruction sent to the model.
func Prompt(a, b string) string {
	return fmt.Sprintf(promptTemplate, strings.TrimSpace(a), strings.TrimSpace(b))
}

// Check returns the model's verdict. Transport errors and timeouts yield Unknown.
func (v *Validator) Check(ctx context.Context, a, b string) Verdict {
	if v == nil || v.client == nil {
		return Unknown
	}
	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	reply, err := v.client.Generate(ctx, Prompt(a, b), nil)
	if err != nil {
		v.log.WithError(err).Debug("validator call failed")
		return Unknown
	}
	return Classify(reply)
}

// AreEquivalent reports true only for an explicit affirmative verdict.
func (v *Validator) AreEquivalent(ctx context.Context, a, b string) bool {
	return v.Check(ctx, a, b) == Equivalent
}

// Classify maps a raw model reply onto a Verdict using its first word.
func Classify(reply string) Verdict {
	word := strings.ToLower(firstWord(reply))
	switch word {
	case "yes", "si", "sí", "true":
		return Equivalent
	case "no", "false":
		return NotEquivalent
	default:
		return Unknown
	}
}

func firstWord(s string) string {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r)
	})
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}
