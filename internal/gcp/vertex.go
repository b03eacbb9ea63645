package gcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"cloud.google.com/go/vertexai/genai"
	"github.com/Lllllllleong/receiptflow/internal/models"
)

// DefaultExpenseModel is the Gemini model used when ANALYSIS_MODEL is unset.
const DefaultExpenseModel = "gemini-1.5-pro"

// --- Expense Analysis Model Prompts ---
const ExpenseSystemPrompt = "You are an expense document analyser. You read scanned receipts and invoices and report the summary fields printed on them exactly as written. You must output your response as valid JSON."
const ExpenseUserPrompt = `You will be provided with a scanned receipt or invoice.

Follow these rules precisely:
1.  Treat each page, or each separate receipt on a page, as one expense document.
2.  For each expense document, list its summary fields: vendor or supplier name, invoice or receipt date, subtotal, tax or VAT, total or amount due, and any other labelled header or footer values.
3.  Each summary field has exactly two keys:
    - "label": the label printed next to the value (e.g. "Total Due", "VAT 20%", "Invoice Date"). If the value has no printed label, use a short descriptive label such as "Vendor Name".
    - "value": the value exactly as printed, including currency symbols.
4.  Do not compute, convert or reformat values. Do not invent fields that are not on the document.
5.  If nothing can be read, return an empty "expenseDocuments" array.`

// expenseResponseSchema constrains Gemini to the ExpenseAnalysis shape.
var expenseResponseSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"expenseDocuments": {
			Type: genai.TypeArray,
			Items: &genai.Schema{
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"summaryFields": {
						Type: genai.TypeArray,
						Items: &genai.Schema{
							Type: genai.TypeObject,
							Properties: map[string]*genai.Schema{
								"label": {Type: genai.TypeString},
								"value": {Type: genai.TypeString},
							},
							Required: []string{"label", "value"},
						},
					},
				},
				Required: []string{"summaryFields"},
			},
		},
	},
	Required: []string{"expenseDocuments"},
}

// VertexClient holds the pre-configured expense analysis model.
type VertexClient struct {
	ExpenseModel *genai.GenerativeModel
	baseClient   *genai.Client
}

// NewVertexClient creates a new client holding the expense model.
func NewVertexClient(ctx context.Context, projectID, region, modelName string) (*VertexClient, error) {
	if projectID == "" || region == "" {
		return nil, fmt.Errorf("NewVertexClient: projectID and region cannot be empty")
	}
	if modelName == "" {
		modelName = DefaultExpenseModel
	}

	baseClient, err := genai.NewClient(ctx, projectID, region)
	if err != nil {
		return nil, fmt.Errorf("genai.NewClient: %w", err)
	}

	expenseModel := baseClient.GenerativeModel(modelName)
	expenseModel.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(ExpenseSystemPrompt)},
	}
	expenseModel.GenerationConfig = genai.GenerationConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema:   expenseResponseSchema,
		Temperature:      genai.Ptr[float32](0.0),
	}

	return &VertexClient{
		ExpenseModel: expenseModel,
		baseClient:   baseClient,
	}, nil
}

// AnalyzeExpense runs expense analysis directly on a GCS object; the
// document is never downloaded by the function.
func (c *VertexClient) AnalyzeExpense(ctx context.Context, gcsURI, mimeType string) (*models.ExpenseAnalysis, error) {
	resp, err := c.ExpenseModel.GenerateContent(ctx,
		genai.FileData{MIMEType: mimeType, FileURI: gcsURI},
		genai.Text(ExpenseUserPrompt),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to analyse %s with gemini: %w", gcsURI, err)
	}

	raw := extractJSONContent(resp)
	if raw == "" {
		return nil, fmt.Errorf("gemini returned an empty response for %s", gcsURI)
	}
	return parseExpenseAnalysis(raw)
}

// extractJSONContent gets the raw text of the first candidate, without
// markdown fences.
func extractJSONContent(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return ""
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			sb.WriteString(string(txt))
		}
	}
	cleanJSON := strings.TrimSpace(sb.String())
	cleanJSON = strings.TrimPrefix(cleanJSON, "```json")
	cleanJSON = strings.TrimPrefix(cleanJSON, "```")
	cleanJSON = strings.TrimSuffix(cleanJSON, "```")
	return strings.TrimSpace(cleanJSON)
}

func parseExpenseAnalysis(raw string) (*models.ExpenseAnalysis, error) {
	var out models.ExpenseAnalysis
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("failed to parse expense analysis JSON: %w", err)
	}
	return &out, nil
}
