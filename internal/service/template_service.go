package service

import (
	"strings"

	"github.com/unclebandit/promopal-backend/internal/model"
)

// RenderTemplate replaces {key} placeholders with values from data.
func RenderTemplate(template string, data map[string]string) string {
	pairs := make([]string, 0, len(data)*2)
	for k, v := range data {
		pairs = append(pairs, "{"+k+"}", v)
	}
	return strings.NewReplacer(pairs...).Replace(template)
}

// PersonalizationData is the placeholder set available in campaign copy.
func PersonalizationData(c model.Client) map[string]string {
	name := strings.TrimSpace(c.Name)
	first := "there"
	if fields := strings.Fields(name); len(fields) > 0 {
		first = fields[0]
	}
	if name == "" {
		name = "there"
	}
	return map[string]string{
		"name":       name,
		"first_name": first,
		"email":      c.Email,
	}
}
