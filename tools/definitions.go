package tools

import "github.com/sashabaranov/go-openai"

// Tool names understood by Dispatch.
const (
	ToolLookupTerm    = "lookup_term"
	ToolPrevLines     = "lookup_prev_lines"
	ToolNextLines     = "lookup_next_lines"
	ToolSearchEntries = "search_entries"
)

var neighborParams = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"index": map[string]any{
			"type":        "integer",
			"description": "Position of the current entry in the document",
		},
		"count": map[string]any{
			"type":        "integer",
			"description": "How many entries to return (default 3)",
		},
	},
	"required": []string{"index"},
}

var queryParams = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"query": map[string]any{
			"type":        "string",
			"description": "Text to look for",
		},
	},
	"required": []string{"query"},
}

// Definitions are the function tools offered to the generator.
var Definitions = []openai.Tool{
	{
		Type: openai.ToolTypeFunction,
		Function: &openai.FunctionDefinition{
			Name:        ToolLookupTerm,
			Description: "Find a glossary term by slug or original text. Use the slug as ${{slug}} in translations.",
			Parameters:  queryParams,
		},
	},
	{
		Type: openai.ToolTypeFunction,
		Function: &openai.FunctionDefinition{
			Name:        ToolPrevLines,
			Description: "Return the entries that precede the given position in the document",
			Parameters:  neighborParams,
		},
	},
	{
		Type: openai.ToolTypeFunction,
		Function: &openai.FunctionDefinition{
			Name:        ToolNextLines,
			Description: "Return the entries that follow the given position in the document",
			Parameters:  neighborParams,
		},
	},
	{
		Type: openai.ToolTypeFunction,
		Function: &openai.FunctionDefinition{
			Name:        ToolSearchEntries,
			Description: "Search source and target texts of the whole document (at most 10 results)",
			Parameters:  queryParams,
		},
	},
}
