package notification

import (
	"fmt"
	"strings"
)

const (
	TemplateLabResultReady = "lab-result-ready"
	TemplateNewMessage     = "new-message"
)

// Template renders the title and message of one kind of notification.
// Placeholders use {{key}} syntax.
type Template struct {
	ID    string
	Type  string
	Title string
	Body  string
}

// Templates is an immutable template set.
type Templates struct {
	byID map[string]Template
}

// NewTemplates returns the built-in templates, with overrides replacing
// built-ins that share an ID.
func NewTemplates(overrides ...Template) Templates {
	builtIn := []Template{
		{
			ID:    TemplateLabResultReady,
			Type:  TypeLabResult,
			Title: "Lab Result Ready",
			Body:  "Your {{test_name}} results are now available. Please log in to view them.",
		},
		{
			ID:    TemplateNewMessage,
			Type:  TypeMessage,
			Title: "New Message",
			Body:  "You have a new message: {{subject}}",
		},
	}
	t := Templates{byID: make(map[string]Template, len(builtIn)+len(overrides))}
	for _, tpl := range append(builtIn, overrides...) {
		t.byID[tpl.ID] = tpl
	}
	return t
}

// Render performs {{key}} replacement. Keys present in the template but
// absent from data are left as-is.
func (t Templates) Render(templateID string, data map[string]string) (Template, error) {
	tpl, ok := t.byID[templateID]
	if !ok {
		return Template{}, fmt.Errorf("%w: %q", ErrUnknownTemplate, templateID)
	}
	pairs := make([]string, 0, 2*len(data))
	for k, v := range data {
		pairs = append(pairs, "{{"+k+"}}", v)
	}
	r := strings.NewReplacer(pairs...)
	tpl.Title = r.Replace(tpl.Title)
	tpl.Body = r.Replace(tpl.Body)
	return tpl, nil
}
