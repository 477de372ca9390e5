package expr

import (
	"strconv"
	"strings"

	"github.com/developer-mesh/nsql-gateway/pkg/nsqlerr"
	"github.com/developer-mesh/nsql-gateway/pkg/nsqlmodel"
)

// KeyAttr is what a Resolver returns for an attribute that participates
// in key rewriting.
type KeyAttr struct {
	PhysicalName string
	IsHashKey    bool
	IsIndexHash  bool // true if this is a secondary index's hash key, not the table's
	VirtualType  nsqlmodel.AttrType
}

// Resolver maps a resolved (already name-substituted) virtual attribute
// name to its physical equivalent, for the primary key and any mapped
// secondary-index keys of the table mapping driving this rewrite.
type Resolver interface {
	Resolve(virtualName string) (KeyAttr, bool)
}

// ValueRewriter rewrites a hash-key value into its physical (composite)
// form.
type ValueRewriter func(nsqlmodel.AttributeValue) (nsqlmodel.AttributeValue, error)

// Result is the outcome of Rewrite.
type Result struct {
	Text   string
	Names  map[string]string
	Values map[string]nsqlmodel.AttributeValue
	// Constant is non-nil when the entire expression was proven to be a
	// constant boolean by virtue of referencing only the table's hash
	// key through attribute_exists/attribute_not_exists (spec.md §4.E's
	// edge case). When set, Text is the input expression unchanged and
	// Names/Values are unmodified copies of the input maps (no key
	// attribute is rewritten to its physical name), so the caller settles
	// the condition locally instead of sending it to a physical store.
	Constant *bool
}

// Rewrite rewrites text (of the given role) so that every identifier or
// #placeholder naming a virtual key attribute (resolved through names)
// is replaced by its physical equivalent, and every :val placeholder (or
// literal) compared against the table's hash key is replaced by the
// value the key codec produces for it. All other tokens are left
// untouched.
func Rewrite(
	text string,
	names map[string]string,
	values map[string]nsqlmodel.AttributeValue,
	role nsqlmodel.ExpressionRole,
	resolver Resolver,
	rewriteHashValue ValueRewriter,
) (Result, error) {
	newNames := cloneNames(names)
	newValues := cloneValues(values)

	if role == nsqlmodel.RoleCondition || role == nsqlmodel.RoleFilter {
		if c, ok := detectConstantExistence(text, names, resolver); ok {
			return Result{Text: text, Names: newNames, Values: newValues, Constant: &c}, nil
		}
	}

	toks := Tokenize(text)
	r := &rewriter{
		toks:      toks,
		src:       text,
		names:     names,
		values:    values,
		newNames:  newNames,
		newValues: newValues,
		resolver:  resolver,
		rewriteHV: rewriteHashValue,
		minted:    map[string]string{},
		replace:   map[int]string{},
		role:      role,
	}
	if err := r.run(); err != nil {
		return Result{}, err
	}
	return Result{Text: r.render(), Names: r.newNames, Values: r.newValues}, nil
}

type rewriter struct {
	toks      []Token
	src       string
	names     map[string]string
	values    map[string]nsqlmodel.AttributeValue
	newNames  map[string]string
	newValues map[string]nsqlmodel.AttributeValue
	resolver  Resolver
	rewriteHV ValueRewriter
	minted    map[string]string // original value-placeholder key -> minted key for hash-key rewritten form
	replace   map[int]string    // token index -> replacement text
	role      nsqlmodel.ExpressionRole
}

func (r *rewriter) run() error {
	for i, t := range r.toks {
		if t.Kind != TokIdent && t.Kind != TokPlaceholderName {
			continue
		}
		if r.isFunctionName(i) {
			continue
		}
		if r.isPathContinuation(i) {
			continue
		}
		virtualName, ok := r.resolveTokenName(t)
		if !ok {
			continue
		}
		attr, ok := r.resolver.Resolve(virtualName)
		if !ok {
			continue
		}
		r.applyNameRewrite(i, t, attr)

		if r.role == nsqlmodel.RoleUpdate && r.isSetAssignmentTarget(i) && attr.IsIndexHash {
			return nsqlerr.New(nsqlerr.KindUnsupportedOperation, "expr.Rewrite", nil)
		}

		if !attr.IsHashKey {
			continue
		}
		if err := r.rewriteAssociatedValue(i); err != nil {
			return err
		}
	}
	return nil
}

// resolveTokenName resolves a token's text to the virtual attribute name
// it denotes: a #name placeholder is looked up in the names map, which is
// keyed by the full placeholder including its '#' sigil.
func (r *rewriter) resolveTokenName(t Token) (string, bool) {
	switch t.Kind {
	case TokPlaceholderName:
		if v, ok := r.names[t.Text]; ok {
			return v, true
		}
		return "", false
	case TokIdent:
		return t.Text, true
	}
	return "", false
}

func (r *rewriter) applyNameRewrite(i int, t Token, attr KeyAttr) {
	switch t.Kind {
	case TokPlaceholderName:
		r.newNames[t.Text] = attr.PhysicalName
	case TokIdent:
		r.replace[i] = attr.PhysicalName
	}
}

// isFunctionName reports whether token i is immediately followed by '('
// (making it a function name, e.g. attribute_exists, not a path).
func (r *rewriter) isFunctionName(i int) bool {
	return i+1 < len(r.toks) && r.toks[i+1].Kind == TokLParen
}

// isPathContinuation reports whether token i is a map-key segment
// following a '.' (part of a larger path, not itself an independent
// operand to resolve).
func (r *rewriter) isPathContinuation(i int) bool {
	return i > 0 && r.toks[i-1].Kind == TokDot
}

// pathEnd returns the index just past the last token of the path that
// begins at i (i.e. after any trailing .ident / [number] segments).
func (r *rewriter) pathEnd(i int) int {
	j := i + 1
	for j < len(r.toks) {
		if r.toks[j].Kind == TokDot && j+1 < len(r.toks) && r.toks[j+1].Kind == TokIdent {
			j += 2
			continue
		}
		if r.toks[j].Kind == TokLBracket && j+2 < len(r.toks) && r.toks[j+1].Kind == TokNumber && r.toks[j+2].Kind == TokRBracket {
			j += 3
			continue
		}
		break
	}
	return j
}

// isSetAssignmentTarget reports whether the path at i is immediately
// followed by '=' (an update SET assignment target).
func (r *rewriter) isSetAssignmentTarget(i int) bool {
	end := r.pathEnd(i)
	return end < len(r.toks) && r.toks[end].Kind == TokOp && r.toks[end].Text == "="
}

// rewriteAssociatedValue finds the value token compared against the
// hash-key path at i (infix comparison on either side, a two-argument
// function's second argument, or direct adjacency as used by ADD/DELETE
// update clauses) and rewrites it through rewriteHV.
func (r *rewriter) rewriteAssociatedValue(i int) error {
	end := r.pathEnd(i)

	// Pattern A: path OP value
	if end < len(r.toks) && r.toks[end].Kind == TokOp {
		if end+1 < len(r.toks) {
			if err := r.rewriteValueToken(end + 1); err != nil {
				return err
			}
		}
	}
	// Pattern F: path value (direct adjacency, ADD/DELETE clauses)
	if end < len(r.toks) && isValueToken(r.toks[end]) {
		if err := r.rewriteValueToken(end); err != nil {
			return err
		}
	}
	// Pattern B: value OP path
	if i >= 2 && r.toks[i-1].Kind == TokOp {
		if err := r.rewriteValueToken(i - 2); err != nil {
			return err
		}
	}
	// Pattern C: FUNC ( path , value )
	if i >= 2 && r.toks[i-1].Kind == TokLParen && r.toks[i-2].Kind == TokIdent {
		if end+1 < len(r.toks) && r.toks[end].Kind == TokComma && isValueToken(r.toks[end+1]) {
			if err := r.rewriteValueToken(end + 1); err != nil {
				return err
			}
		}
	}
	return nil
}

func isValueToken(t Token) bool {
	return t.Kind == TokPlaceholderVal || t.Kind == TokString || t.Kind == TokNumber
}

// rewriteValueToken rewrites the value token at index j (if it is one)
// through rewriteHV, minting (and remembering) a fresh value placeholder
// so any other, non-hash-key use of the same original placeholder keeps
// its original binding.
func (r *rewriter) rewriteValueToken(j int) error {
	t := r.toks[j]
	if !isValueToken(t) {
		return nil
	}
	original, err := r.literalValue(t)
	if err != nil {
		return err
	}
	rewritten, err := r.rewriteHV(original)
	if err != nil {
		return nsqlerr.New(nsqlerr.KindMalformedPhysicalKey, "expr.rewriteValueToken", err)
	}

	switch t.Kind {
	case TokPlaceholderVal:
		origKey := t.Text[1:]
		minted, ok := r.minted[origKey]
		if !ok {
			minted = origKey + "__phys"
			for {
				if _, clash := r.newValues[minted]; !clash {
					break
				}
				minted += "_"
			}
			r.minted[origKey] = minted
			r.newValues[minted] = rewritten
		}
		r.replace[j] = ":" + minted
	case TokString, TokNumber:
		// Literal values have no placeholder to redirect; mint one.
		minted := "physval0"
		for n := 0; ; n++ {
			minted = "physval" + strconv.Itoa(n)
			if _, clash := r.newValues[minted]; !clash {
				break
			}
		}
		r.newValues[minted] = rewritten
		r.replace[j] = ":" + minted
	}
	return nil
}

// literalValue resolves a value token to the AttributeValue it denotes:
// the bound value for a :placeholder, or a parsed literal for a bare
// string/number token.
func (r *rewriter) literalValue(t Token) (nsqlmodel.AttributeValue, error) {
	switch t.Kind {
	case TokPlaceholderVal:
		if v, ok := r.values[t.Text[1:]]; ok {
			return v, nil
		}
		return nsqlmodel.AttributeValue{}, nsqlerr.New(nsqlerr.KindMalformedPhysicalKey, "expr.literalValue", nil)
	case TokString:
		return nsqlmodel.AttributeValue{Type: nsqlmodel.AttrTypeString, S: unquote(t.Text)}, nil
	case TokNumber:
		return nsqlmodel.AttributeValue{Type: nsqlmodel.AttrTypeNumber, N: t.Text}, nil
	}
	return nsqlmodel.AttributeValue{}, nsqlerr.New(nsqlerr.KindMalformedPhysicalKey, "expr.literalValue", nil)
}

func unquote(s string) string {
	if len(s) >= 2 {
		return s[1 : len(s)-1]
	}
	return s
}

// render reassembles the source text, splicing in replacements recorded
// by token index and leaving everything else byte-for-byte as written.
func (r *rewriter) render() string {
	var b strings.Builder
	last := 0
	for i, t := range r.toks {
		if t.Kind == TokEOF {
			break
		}
		if last < t.Start {
			b.WriteString(r.src[last:t.Start])
		}
		if rep, ok := r.replace[i]; ok {
			b.WriteString(rep)
		} else {
			b.WriteString(t.Text)
		}
		last = t.End
	}
	b.WriteString(r.src[last:])
	return b.String()
}

// detectConstantExistence recognizes a whole expression of the exact
// shape `attribute_exists(<hash-key ref>)` or
// `attribute_not_exists(<hash-key ref>)`, per spec.md §4.E's edge case:
// since the physical hash key always exists on any stored row, these are
// constant true/false respectively.
func detectConstantExistence(text string, names map[string]string, resolver Resolver) (bool, bool) {
	toks := Tokenize(text)
	// Expect: IDENT '(' (IDENT|PLACEHOLDER) ')' EOF
	if len(toks) != 5 {
		return false, false
	}
	fn, lp, ref, rp, eof := toks[0], toks[1], toks[2], toks[3], toks[4]
	if fn.Kind != TokIdent || lp.Kind != TokLParen || rp.Kind != TokRParen || eof.Kind != TokEOF {
		return false, false
	}
	var virtualName string
	switch ref.Kind {
	case TokPlaceholderName:
		v, ok := names[ref.Text]
		if !ok {
			return false, false
		}
		virtualName = v
	case TokIdent:
		virtualName = ref.Text
	default:
		return false, false
	}
	attr, ok := resolver.Resolve(virtualName)
	if !ok || !attr.IsHashKey {
		return false, false
	}
	switch fn.Text {
	case "attribute_exists":
		return true, true
	case "attribute_not_exists":
		return false, true
	}
	return false, false
}

func cloneNames(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneValues(m map[string]nsqlmodel.AttributeValue) map[string]nsqlmodel.AttributeValue {
	out := make(map[string]nsqlmodel.AttributeValue, len(m))
	for k, v := range m {
		out[k] = v.Clone()
	}
	return out
}
