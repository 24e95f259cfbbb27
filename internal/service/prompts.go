package service

import (
	"fmt"
	"strings"

	"procurehub/internal/model"
)

const structureSystemPrompt = `You are a procurement assistant. You turn a free-text purchasing request
into a structured RFP. Respond with a single JSON object and nothing else:
{
  "title": string,
  "line_items": [{"name": string, "description": string, "quantity": number, "specs": {string: string}}],
  "budget": number,
  "delivery_timeline": string,
  "payment_terms": string,
  "warranty_terms": string,
  "special_conditions": [string]
}`

const parseSystemPrompt = `You are a procurement assistant. You extract commercial terms from a
vendor's reply to an RFP. Respond with a single JSON object and nothing else:
{
  "line_items": [{"name": string, "unit_price": number, "quantity": number, "line_total": number}],
  "total": number,
  "delivery_timeline": string,
  "payment_terms": string,
  "warranty_terms": string,
  "special_conditions": [string],
  "notes": string,
  "confidence": number between 0 and 1 reflecting how certain you are
}
If a field is not present in the email, omit it. Never invent prices.`

const compareSystemPrompt = `You are a procurement analyst. You compare vendor proposals against an
RFP and recommend one vendor. Respond with a single JSON object and nothing else:
{
  "analyses": [{
    "responder_id": string, "responder_name": string,
    "strengths": [string], "weaknesses": [string],
    "price_score": number 0-10, "delivery_score": number 0-10,
    "terms_score": number 0-10, "completeness_score": number 0-10,
    "total_score": number, "red_flags": [string]
  }],
  "recommendation": {"responder_id": string, "responder_name": string, "reasoning": string, "confidence": number 0-1},
  "summary": string
}`

func buildParsePrompt(req *model.Request, email *model.InboundEmail) string {
	var b strings.Builder
	b.WriteString("The vendor replied to this RFP")
	if req != nil && req.Terms != nil {
		fmt.Fprintf(&b, " (%q)", req.Terms.Title)
	}
	b.WriteString(".\n\nSubject: ")
	b.WriteString(email.Subject)
	b.WriteString("\n\nBody:\n")
	b.WriteString(email.Body)
	if len(email.Attachments) > 0 {
		b.WriteString("\n\nAttachments: ")
		b.WriteString(strings.Join(email.Attachments, ", "))
	}
	return b.String()
}

func buildComparePrompt(req *model.Request, proposals []model.Proposal, responders map[string]*model.Responder) string {
	var b strings.Builder
	b.WriteString("RFP under comparison:\n")
	writeRequestTerms(&b, req)

	for i := range proposals {
		p := &proposals[i]
		fmt.Fprintf(&b, "\n--- Proposal from responder %s", p.ResponderID)
		if r := responders[p.ResponderID.String()]; r != nil {
			fmt.Fprintf(&b, " (%s", r.Name)
			if r.Specialization != "" {
				fmt.Fprintf(&b, ", specialization: %s", r.Specialization)
			}
			b.WriteString(")")
		}
		b.WriteString(" ---\n")

		if p.Confidence != nil {
			fmt.Fprintf(&b, "Parsing confidence: %.2f\n", *p.Confidence)
		} else {
			b.WriteString("Parsing confidence: not parsed\n")
		}
		fmt.Fprintf(&b, "Flagged for manual review: %t\n", p.RequiresReview)

		if p.Terms != nil {
			b.WriteString(formatProposalTerms(p.Terms))
		} else {
			// 未解析的提案用原文参与对比
			b.WriteString("Unparsed raw reply:\n")
			b.WriteString(p.RawBody)
			b.WriteString("\n")
		}
	}

	b.WriteString("\nScore every proposal and recommend exactly one responder.")
	return b.String()
}

func writeRequestTerms(b *strings.Builder, req *model.Request) {
	if req.Terms == nil {
		b.WriteString(req.OriginText)
		b.WriteString("\n")
		return
	}
	t := req.Terms
	fmt.Fprintf(b, "Title: %s\n", t.Title)
	for _, item := range t.Items {
		fmt.Fprintf(b, "- %s x%g: %s\n", item.Name, item.Quantity, item.Description)
	}
	if t.Budget > 0 {
		fmt.Fprintf(b, "Budget: %.2f\n", t.Budget)
	}
	if req.TargetBudget > 0 {
		fmt.Fprintf(b, "Target budget: %.2f\n", req.TargetBudget)
	}
	if t.DeliveryTimeline != "" {
		fmt.Fprintf(b, "Delivery: %s\n", t.DeliveryTimeline)
	}
	if t.PaymentTerms != "" {
		fmt.Fprintf(b, "Payment: %s\n", t.PaymentTerms)
	}
	if t.WarrantyTerms != "" {
		fmt.Fprintf(b, "Warranty: %s\n", t.WarrantyTerms)
	}
	for _, c := range t.SpecialConditions {
		fmt.Fprintf(b, "Condition: %s\n", c)
	}
}

func formatProposalTerms(t *model.ProposalTerms) string {
	var b strings.Builder
	for _, item := range t.Items {
		fmt.Fprintf(&b, "- %s: %g x %.2f = %.2f\n", item.Name, item.Quantity, item.UnitPrice, item.LineTotal)
	}
	fmt.Fprintf(&b, "Total: %.2f\n", t.Total)
	if t.DeliveryTimeline != "" {
		fmt.Fprintf(&b, "Delivery: %s\n", t.DeliveryTimeline)
	}
	if t.PaymentTerms != "" {
		fmt.Fprintf(&b, "Payment: %s\n", t.PaymentTerms)
	}
	if t.WarrantyTerms != "" {
		fmt.Fprintf(&b, "Warranty: %s\n", t.WarrantyTerms)
	}
	for _, c := range t.SpecialConditions {
		fmt.Fprintf(&b, "Condition: %s\n", c)
	}
	if t.Notes != "" {
		fmt.Fprintf(&b, "Notes: %s\n", t.Notes)
	}
	return b.String()
}
