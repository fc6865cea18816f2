package pipeline

import (
	"fmt"
	"strings"
)

// maxPayloadInPrompt bounds how much of a result set is shown to the model.
const maxPayloadInPrompt = 8000

const sqlPromptTemplate = `You translate questions into a single SQLite query.

Database schema:
%s

Rules:
- Answer with one SELECT statement (a WITH clause is allowed) inside a ` + "```sql" + ` block.
- Never modify data.
- Use only the tables and columns in the schema.

Question: %s`

const summaryPromptTemplate = `Answer the question using only the query result below.
Be concise and state the numbers exactly as they appear. If the result is empty, say that no data matched.

Question: %s

SQL:
%s

Result (JSON):
%s`

func sqlPrompt(schema, question string) string {
	return fmt.Sprintf(sqlPromptTemplate, strings.TrimSpace(schema), question)
}

func summaryPrompt(question, sqlText string, payload []byte) string {
	p := string(payload)
	if len(p) > maxPayloadInPrompt {
		p = p[:maxPayloadInPrompt] + "\n...(truncated)"
	}
	return fmt.Sprintf(summaryPromptTemplate, question, sqlText, p)
}
