package heuristic

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/locus/api/schemas"
	"github.com/xkilldash9x/locus/internal/lexicon"
	"github.com/xkilldash9x/locus/internal/steps"
)

func button(ref, text string) schemas.InteractableElement {
	return schemas.InteractableElement{
		CorrelationID: ref, Tag: "button", RoleOrType: "submit", VisibleText: text,
		IsInViewport: true, Category: schemas.CategoryClickable,
	}
}

func link(ref, text string) schemas.InteractableElement {
	return schemas.InteractableElement{
		CorrelationID: ref, Tag: "a", VisibleText: text,
		IsInViewport: true, Category: schemas.CategoryClickable,
	}
}

func field(ref, kind, label, name string) schemas.InteractableElement {
	return schemas.InteractableElement{
		CorrelationID: ref, Tag: "input", RoleOrType: kind, VisibleText: label,
		LabelText: label, Name: name, IsInViewport: true, Category: schemas.CategoryForm,
	}
}

func parse(desc string) schemas.ActionStep {
	return steps.Parse(lexicon.Default(), 1, desc, "")
}

func TestMatch_ExactTextBeatsSubstring(t *testing.T) {
	m := NewMatcher(nil)
	res := m.Match(parse("Click Submit"), []schemas.InteractableElement{
		link("e2", "Submit Order"),
		button("e1", "Submit"),
	})

	require.NotNil(t, res.Best)
	assert.Equal(t, "e1", res.Best.CorrelationID)
	assert.Equal(t, 130, res.Best.Score)
	assert.Equal(t, 100, res.Confidence, "confidence is capped")
	require.Len(t, res.Alternatives, 1)
	assert.Equal(t, "e2", res.Alternatives[0].CorrelationID)
	assert.Equal(t, 35, res.Alternatives[0].Score)
}

func TestMatch_QuotedTargetAndTurkishCasing(t *testing.T) {
	m := NewMatcher(nil)
	step := parse(`"Giriş" butonuna tıklayın`)
	require.Equal(t, schemas.ActionClick, step.ActionType)

	res := m.Match(step, []schemas.InteractableElement{
		link("e1", "Kayıt Ol"),
		button("e2", "GİRİŞ"),
	})
	require.NotNil(t, res.Best)
	assert.Equal(t, "e2", res.Best.CorrelationID)
}

func TestMatch_SingleWordOfMultiWordTarget(t *testing.T) {
	m := NewMatcher(nil)
	step := schemas.ActionStep{Description: "Click the checkout now link", ActionType: schemas.ActionClick}
	el := link("e1", "Checkout")
	assert.Equal(t, scoreCleanWord+scoreInViewport, m.Score(step, el))
}

func TestMatch_StructuralBonusesApplyWithoutTextMatch(t *testing.T) {
	m := NewMatcher(nil)
	step := parse("Click Continue")
	cancel := button("e1", "Cancel")

	assert.Equal(t, scoreNativeButton+scoreSubmitType+scoreInViewport, m.Score(step, cancel))
	assert.Zero(t, m.Relevance(step, cancel))

	res := m.Match(step, []schemas.InteractableElement{cancel})
	require.NotNil(t, res.Best)
	assert.Equal(t, 30, res.Confidence)

	cont := link("e2", "Continue")
	assert.Equal(t, scoreExactText, m.Relevance(step, cont))
	assert.Equal(t, scoreExactText+scoreInViewport, m.Score(step, cont))
}

func TestMatch_FormField(t *testing.T) {
	m := NewMatcher(nil)
	step := parse(`Enter "jane@example.com" into the Email field`)
	require.Equal(t, schemas.ActionFill, step.ActionType)

	res := m.Match(step, []schemas.InteractableElement{
		button("e0", "Email me"),
		field("e1", "password", "Password", "password"),
		field("e2", "email", "Email", "email"),
	})
	require.NotNil(t, res.Best)
	assert.Equal(t, "e2", res.Best.CorrelationID)
	assert.Equal(t, scoreTargetHint+scoreExactLabel+scoreFormNameID, res.Best.Score)
	for _, alt := range res.Alternatives {
		assert.NotEqual(t, "e0", alt.CorrelationID, "buttons are not eligible for fill")
	}

	d := res.Decision(step)
	require.True(t, d.HasTarget())
	assert.Equal(t, "e2", *d.TargetRef)
	assert.Equal(t, schemas.ActionFill, d.ActionType)
	assert.Equal(t, "jane@example.com", d.Value)
}

func TestMatch_PartialLabel(t *testing.T) {
	m := NewMatcher(nil)
	step := schemas.ActionStep{Description: "Fill the company field", ActionType: schemas.ActionFill}
	el := field("e1", "text", "Company name", "org")
	// hint (company) + partial label
	assert.Equal(t, scoreTargetHint+scorePartialLabel, m.Score(step, el))
}

func TestMatch_Eligibility(t *testing.T) {
	toggle := field("e1", "checkbox", "Remember me", "remember")
	text := field("e2", "text", "Remember me", "remember_text")
	sel := schemas.InteractableElement{CorrelationID: "e3", Tag: "select", VisibleText: "Country", LabelText: "Country", Category: schemas.CategoryForm}
	btn := button("e4", "Remember me")

	tests := []struct {
		action schemas.ActionType
		want   map[string]bool
	}{
		{schemas.ActionCheck, map[string]bool{"e1": true}},
		{schemas.ActionFill, map[string]bool{"e2": true}},
		{schemas.ActionSelect, map[string]bool{"e3": true}},
		{schemas.ActionClick, map[string]bool{"e4": true}},
	}
	for _, tt := range tests {
		t.Run(string(tt.action), func(t *testing.T) {
			for _, el := range []schemas.InteractableElement{toggle, text, sel, btn} {
				assert.Equal(t, tt.want[el.CorrelationID], isEligible(tt.action, el), el.CorrelationID)
			}
		})
	}
}

func TestMatch_NoEligibleFallsBackToAll(t *testing.T) {
	m := NewMatcher(nil)
	step := schemas.ActionStep{Description: "Fill Search", ActionType: schemas.ActionFill}
	res := m.Match(step, []schemas.InteractableElement{button("e1", "Search")})
	require.NotNil(t, res.Best)
	assert.Equal(t, "e1", res.Best.CorrelationID)
}

func TestRank(t *testing.T) {
	t.Run("confidence is the top score", func(t *testing.T) {
		res := Rank([]schemas.ElementCandidate{
			{InteractableElement: schemas.InteractableElement{CorrelationID: "low"}, Score: 40},
			{InteractableElement: schemas.InteractableElement{CorrelationID: "high"}, Score: 80},
		})
		require.NotNil(t, res.Best)
		assert.Equal(t, "high", res.Best.CorrelationID)
		assert.Equal(t, 80, res.Confidence)
		require.Len(t, res.Alternatives, 1)
		assert.Equal(t, "low", res.Alternatives[0].CorrelationID)
	})

	t.Run("ties keep input order", func(t *testing.T) {
		res := Rank([]schemas.ElementCandidate{
			{InteractableElement: schemas.InteractableElement{CorrelationID: "first"}, Score: 50},
			{InteractableElement: schemas.InteractableElement{CorrelationID: "second"}, Score: 50},
		})
		assert.Equal(t, "first", res.Best.CorrelationID)
	})

	t.Run("at most three alternatives", func(t *testing.T) {
		var cands []schemas.ElementCandidate
		for i := 0; i < 6; i++ {
			cands = append(cands, schemas.ElementCandidate{Score: 10 + i})
		}
		res := Rank(cands)
		assert.Equal(t, 15, res.Best.Score)
		assert.Len(t, res.Alternatives, 3)
	})

	t.Run("empty", func(t *testing.T) {
		res := Rank(nil)
		assert.Nil(t, res.Best)
		assert.Zero(t, res.Confidence)
	})
}

func TestDecision_NoMatch(t *testing.T) {
	d := Result{}.Decision(schemas.ActionStep{Description: "do something", ActionType: schemas.ActionUnknown})
	assert.False(t, d.HasTarget())
	assert.Equal(t, schemas.ActionClick, d.ActionType)
	assert.NotEmpty(t, d.Reason)
}
