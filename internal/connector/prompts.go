package connector

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/propsignal/geo-audit/internal/model"
)

const structuredSystemText = "You are a local apartment-market analyst. Return only a valid JSON object matching the requested shape. No prose, no markdown fences."

const structuredPrompt = `A prospective renter asked: %q

List up to 10 apartment communities an AI assistant would surface for this question, ranked by prominence (position 1 = most prominent). Include the community's website domain and a one-sentence rationale for its rank.

Tracked brand: %s
Brand domains: %s
%s%sReturn a JSON object exactly in this shape:
{
  "ordered_entities": [{"name": "...", "domain": "...", "rationale": "...", "position": 1}],
  "citations": [{"url": "...", "domain": "...", "entity_ref": "..."}],
  "answer_summary": "...",
  "notes": {"flags": []}
}
Allowed values for notes.flags: "no_sources", "possible_hallucination", "outdated_info", "nap_mismatch", "conflicting_prices".`

const naturalSystemText = "You are a helpful assistant talking to someone searching for an apartment. Answer conversationally in plain prose, the way you would in a normal chat. Do not return JSON, tables, or bullet lists of links."

const analysisSystemText = "You are an analyst extracting structured brand-visibility data from an AI assistant's answer. Return only a valid JSON object matching the requested shape."

const analysisPrompt = `Below is an AI assistant's answer to the renter question %q.

Tracked brand: %s
Brand domains: %s
%s%sAssistant answer:
---
%s
---

Extract every apartment community mentioned, in order of prominence, and analyze how the tracked brand shows up. Self-report quality flags: use "no_sources" if the answer cites nothing, "possible_hallucination" if communities look invented, "outdated_info" or "conflicting_prices" or "nap_mismatch" where applicable.

Return a JSON object exactly in this shape:
{
  "answer_block": {
    "ordered_entities": [{"name": "...", "domain": "...", "rationale": "...", "position": 1}],
    "citations": [{"url": "...", "domain": "...", "entity_ref": "..."}],
    "answer_summary": "...",
    "notes": {"flags": []}
  },
  "analysis": {
    "entity_mentions": [{"name": "...", "mention_count": 1, "first_mention": "..."}],
    "brand_analysis": {"mentioned": false, "position": null, "location_stated": false, "location_correct": false, "prominence": ""},
    "extraction_confidence": 0
  }
}`

// analysisSchema constrains Phase-2 output on providers that support
// schema-constrained responses.
var analysisSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "answer_block": {
      "type": "object",
      "properties": {
        "ordered_entities": {
          "type": "array",
          "items": {
            "type": "object",
            "properties": {
              "name": {"type": "string"},
              "domain": {"type": "string"},
              "rationale": {"type": "string"},
              "position": {"type": "integer"}
            },
            "required": ["name", "domain"]
          }
        },
        "citations": {
          "type": "array",
          "items": {
            "type": "object",
            "properties": {
              "url": {"type": "string"},
              "domain": {"type": "string"},
              "entity_ref": {"type": "string"}
            },
            "required": ["url", "domain"]
          }
        },
        "answer_summary": {"type": "string"},
        "notes": {
          "type": "object",
          "properties": {
            "flags": {"type": "array", "items": {"type": "string"}}
          }
        }
      },
      "required": ["ordered_entities", "answer_summary"]
    },
    "analysis": {
      "type": "object",
      "properties": {
        "entity_mentions": {"type": "array"},
        "brand_analysis": {"type": "object"},
        "extraction_confidence": {"type": "number"}
      }
    }
  },
  "required": ["answer_block"]
}`)

// locationBlock renders the property-location disambiguation section, or
// "" when no location details exist. Same-named communities in other
// cities are the main source of cross-city confusion.
func locationBlock(loc model.PropertyLocation) string {
	var parts []string
	if loc.City != "" && loc.State != "" {
		parts = append(parts, fmt.Sprintf("%s, %s", loc.City, loc.State))
	} else if loc.City != "" {
		parts = append(parts, loc.City)
	}
	if loc.FullAddress != "" {
		parts = append(parts, loc.FullAddress)
	}
	if loc.WebsiteURL != "" {
		parts = append(parts, loc.WebsiteURL)
	}
	if len(parts) == 0 {
		return ""
	}
	return fmt.Sprintf("Tracked brand location: %s. Do not confuse it with same-named communities in other cities.\n", strings.Join(parts, "; "))
}

func competitorBlock(competitors []string) string {
	if len(competitors) == 0 {
		return ""
	}
	return fmt.Sprintf("Known competitors: %s\n", strings.Join(competitors, ", "))
}

func buildStructuredPrompt(qc model.QueryContext) string {
	return fmt.Sprintf(structuredPrompt,
		qc.QueryText,
		qc.BrandName,
		strings.Join(qc.BrandDomains, ", "),
		locationBlock(qc.Location),
		competitorBlock(qc.Competitors),
	)
}

func buildAnalysisPrompt(qc model.QueryContext, naturalText string) string {
	return fmt.Sprintf(analysisPrompt,
		qc.QueryText,
		qc.BrandName,
		strings.Join(qc.BrandDomains, ", "),
		locationBlock(qc.Location),
		competitorBlock(qc.Competitors),
		naturalText,
	)
}
