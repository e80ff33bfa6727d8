package handler

import (
	"strings"

	"github.com/cuongbtq/docflow/internal/domain"
	"github.com/cuongbtq/docflow/shared/inference"
)

const (
	systemPrompt = "You are a helpful AI assistant. Answer the user's question using ONLY the context provided below. " +
		"If the answer is not in the context, say 'I cannot answer this based on the documents provided.'"

	noDocumentsPlaceholder = "No relevant documents found."
)

// buildContext renders every document's chunks under a header naming it.
// Chunks are expected in index order.
func buildContext(docs []domain.ContextDocument) string {
	var sb strings.Builder
	for _, doc := range docs {
		if len(doc.Chunks) == 0 {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString("--- Document: ")
		sb.WriteString(doc.DocumentTitle)
		sb.WriteString(" ---\n")
		for i, c := range doc.Chunks {
			if i > 0 {
				sb.WriteString("\n")
			}
			sb.WriteString(c.Text)
		}
	}

	if sb.Len() == 0 {
		return noDocumentsPlaceholder
	}
	return sb.String()
}

// BuildMessages assembles the chat prompt for a frozen run input
func BuildMessages(in domain.RunInput) []inference.Message {
	user := "Context:\n" + buildContext(in.ContextDocuments) + "\n\nQuestion:\n" + in.Question()
	return []inference.Message{
		{Role: inference.RoleSystem, Content: systemPrompt},
		{Role: inference.RoleUser, Content: user},
	}
}
