package compose

import (
	"fmt"
	"sort"
	"strings"

	"github.com/joss/buildlab/pkg/llm"
)

// historyHeader introduces the serialized prior turns in project mode.
const historyHeader = "Here is the previous history containing the query and your response:"

// ProjectInstructions returns the fixed project-mode instructions. deps is
// the set of packages the baseline scaffold declares; the model is told to
// use nothing else.
func ProjectInstructions(deps []string) string {
	sorted := append([]string(nil), deps...)
	sort.Strings(sorted)

	var sb strings.Builder
	sb.WriteString("Keep these rules in mind while developing the project.\n")
	sb.WriteString("- Build it as a React app with functional components and Tailwind CSS classes for styling.\n")
	sb.WriteString("- Put each reusable component in its own file under /components; /App.js stays the entry component.\n")
	if len(sorted) > 0 {
		fmt.Fprintf(&sb, "- Only import from these packages: %s.\n", strings.Join(sorted, ", "))
	}
	sb.WriteString("- Every file must contain complete, working code. Do not leave placeholders.\n")
	sb.WriteString("- Reply with JSON only, in exactly this shape:\n")
	sb.WriteString(`{
  "projectTitle": "short title",
  "explanation": "one paragraph describing the project structure and what each file does",
  "files": {
    "/App.js": { "code": "..." }
  },
  "generatedFiles": ["/App.js"]
}`)
	sb.WriteString("\n- List every path you put in \"files\" in \"generatedFiles\".")
	return sb.String()
}

// AnswerPrompt renders the answer-mode prompt for query.
func AnswerPrompt(query string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "As an expert software developer, provide the following information for the query: \"%s\"\n\n", query)
	sb.WriteString("- \"text\": a short explanation in plain language. Do not put code in this field.\n")
	sb.WriteString("- \"resources\": at least 2 and at most 6 links to relevant documentation or articles.\n")
	sb.WriteString("- \"files\": relevant files, each with a \"name\" and its full \"content\".\n")
	sb.WriteString("If the query is technical, always include code snippets in \"files\".")
	return sb.String()
}

// AnswerSchema is the response schema sent with every answer-mode call.
func AnswerSchema() *llm.Schema {
	return &llm.Schema{
		Type: llm.TypeObject,
		Properties: map[string]*llm.Schema{
			"text": {
				Type:        llm.TypeString,
				Description: "Short explanation without code",
			},
			"resources": {
				Type:        llm.TypeArray,
				Description: "Links to resources",
				Items:       &llm.Schema{Type: llm.TypeString},
			},
			"files": {
				Type: llm.TypeArray,
				Items: &llm.Schema{
					Type: llm.TypeObject,
					Properties: map[string]*llm.Schema{
						"name":    {Type: llm.TypeString},
						"content": {Type: llm.TypeString},
					},
					Required: []string{"name", "content"},
				},
			},
		},
		Required: []string{"text"},
	}
}
