// Package ai wraps the two Gemini calls the ledger makes: receipt
// extraction from a photo and the monthly couple report. The model is not
// trusted to respect either schema; every response is cleaned, decoded
// strictly, and normalized field by field before anything touches the
// domain.
package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"

	"coupleledger/internal/core"
)

var (
	ErrNoAPIKey       = errors.New("gemini api key not configured")
	ErrEmptyResponse  = errors.New("empty response from model")
	ErrUnusableReport = errors.New("report response unusable: awards missing")
)

type Client struct {
	apiKey string
	model  string
}

func New(apiKey, model string) *Client {
	return &Client{apiKey: apiKey, model: model}
}

// ReceiptDraft is the extraction result before the user confirms it. The
// payer is relative: the model only guesses "me or together".
type ReceiptDraft struct {
	TxDate   string        `json:"tx_date"`
	Merchant string        `json:"merchant"`
	Amount   int64         `json:"amount"`
	Category string        `json:"category"`
	Payer    core.Relative `json:"-"`
	Memo     string        `json:"memo"`
	Items    []core.Item   `json:"items"`
}

// Award is one of the three monthly award cards.
type Award struct {
	Icon  string `json:"icon"`
	Color string `json:"color"`
	Title string `json:"title"`
	Desc  string `json:"desc"`
	Emoji string `json:"emoji"`
}

// Report is the generated monthly summary payload.
type Report struct {
	Subtitle string  `json:"subtitle"`
	Awards   []Award `json:"awards"`
	Comment  string  `json:"comment"`
}

// receiptPrompt pins the JSON schema and the category enumeration. Carried
// over from the original client prompt.
const receiptPromptFormat = `너는 커플 가계부 영수증 데이터 추출기다. JSON만 출력해.
스키마:
{
  "tx_date": "YYYY-MM-DD",
  "merchant": "가맹점명",
  "amount": 0,
  "category": "%s",
  "payer": "me|together",
  "memo": "영수증 분석 후 짧은 요약",
  "items": [{"name": "품목명", "price": 0}]
}
규칙:
1. amount는 쉼표 없는 정수로 전체 합계 금액.
2. tx_date를 정수(년/월/일)로 추출해. 모르면 오늘 날짜.
3. 식비가 매우 크거나, 2인 이상 결제, 데이트 코스 관련이면 payer를 "together"로, 그 외엔 "me"로 추측.
4. 이모티콘은 절대 쓰지 마.
5. items 배열에 영수증에 적힌 개별 품목명과 가격을 필수로 남겨줘.
`

const reportPromptFormat = `너는 냉철하고 위트있는 커플 가계부 분석 AI야.
다음은 %s 한 달간 발생한 결제 내역들이야.
JSON만 출력해. 이모티콘은 emoji 필드에만 써.
스키마:
{
  "subtitle": "이번 달을 한 줄로 요약한 부제",
  "awards": [
    {"icon": "material symbols 아이콘명", "color": "orange|purple|blue|pink|green|red|amber", "title": "어워드 제목", "desc": "한 줄 설명", "emoji": "이모지 1개"}
  ],
  "comment": "예산 대비 방심했던 지출에 대한 간결한 팩트폭행 조언"
}
규칙:
1. awards는 정확히 3개: 데이트 테마 명명, 결제 요정 타이틀, 돈을 가장 알차게 쓴 날 회고.
2. 각 desc는 한 줄로 간결하게.

결제 내역:
%s`

// ParseReceipt sends the receipt image to Gemini and returns the
// normalized draft.
func (c *Client) ParseReceipt(ctx context.Context, image []byte, mimeType string) (ReceiptDraft, error) {
	if c.apiKey == "" {
		return ReceiptDraft{}, ErrNoAPIKey
	}
	if mimeType == "" {
		mimeType = "image/jpeg"
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: c.apiKey})
	if err != nil {
		return ReceiptDraft{}, fmt.Errorf("create genai client: %w", err)
	}

	prompt := fmt.Sprintf(receiptPromptFormat, strings.Join(core.Categories, "|"))
	contents := []*genai.Content{
		{
			Role: "user",
			Parts: []*genai.Part{
				{Text: prompt},
				{InlineData: &genai.Blob{MIMEType: mimeType, Data: image}},
			},
		},
	}

	resp, err := client.Models.GenerateContent(ctx, c.model, contents, nil)
	if err != nil {
		return ReceiptDraft{}, fmt.Errorf("generate content: %w", err)
	}

	raw := resp.Text()
	if raw == "" {
		return ReceiptDraft{}, ErrEmptyResponse
	}

	return DecodeReceipt(raw, time.Now())
}

// MonthlyReport generates the couple report for one month of
// transactions. payerLabel renders payers the way the devices display
// them, so the model talks about the couple in their own words.
func (c *Client) MonthlyReport(ctx context.Context, m core.Month, txs []core.Transaction, payerLabel func(core.Payer) string) (Report, error) {
	if c.apiKey == "" {
		return Report{}, ErrNoAPIKey
	}
	if len(txs) == 0 {
		return Report{}, errors.New("no transactions to analyze")
	}
	if payerLabel == nil {
		payerLabel = func(p core.Payer) string { return p.String() }
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: c.apiKey})
	if err != nil {
		return Report{}, fmt.Errorf("create genai client: %w", err)
	}

	var b strings.Builder
	for _, t := range txs {
		fmt.Fprintf(&b, "%s|%s|%d원|%s|결제:%s\n",
			t.TxDate, t.Category, t.Amount, t.Merchant, payerLabel(t.Payer))
	}
	prompt := fmt.Sprintf(reportPromptFormat, m.String(), b.String())

	config := &genai.GenerateContentConfig{Temperature: genai.Ptr[float32](0.7)}
	resp, err := client.Models.GenerateContent(ctx, c.model, genai.Text(prompt), config)
	if err != nil {
		return Report{}, fmt.Errorf("generate content: %w", err)
	}

	raw := resp.Text()
	if raw == "" {
		return Report{}, ErrEmptyResponse
	}

	return DecodeReport(raw)
}

// receiptWire mirrors the model's JSON, payer still a raw string.
type receiptWire struct {
	TxDate   string      `json:"tx_date"`
	Merchant string      `json:"merchant"`
	Amount   int64       `json:"amount"`
	Category string      `json:"category"`
	Payer    string      `json:"payer"`
	Memo     string      `json:"memo"`
	Items    []core.Item `json:"items"`
}

// DecodeReceipt parses a model response into a draft, applying the
// per-field fallbacks: unparseable date becomes today, unknown category
// the catch-all, unknown payer me, missing items an empty list. A response
// that is not a JSON object at all is an error, not a default.
func DecodeReceipt(raw string, now time.Time) (ReceiptDraft, error) {
	clean := CleanModelJSON(raw)

	var w receiptWire
	if err := json.Unmarshal([]byte(clean), &w); err != nil {
		return ReceiptDraft{}, fmt.Errorf("unmarshal receipt JSON: %w\nraw response: %s", err, raw)
	}

	d := ReceiptDraft{
		TxDate:   w.TxDate,
		Merchant: strings.TrimSpace(w.Merchant),
		Amount:   w.Amount,
		Category: core.NormalizeCategory(w.Category),
		Payer:    core.DecodeRelative(w.Payer),
		Memo:     strings.TrimSpace(w.Memo),
		Items:    w.Items,
	}
	if !core.ValidDate(d.TxDate) {
		d.TxDate = core.Today(now)
	}
	if d.Merchant == "" {
		d.Merchant = core.DefaultMerchant
	}
	if d.Items == nil {
		d.Items = []core.Item{}
	}
	return d, nil
}

// DecodeReport parses a model response into a report. A missing or
// non-array awards field makes the whole response unusable.
func DecodeReport(raw string) (Report, error) {
	clean := CleanModelJSON(raw)

	var r Report
	if err := json.Unmarshal([]byte(clean), &r); err != nil {
		return Report{}, fmt.Errorf("unmarshal report JSON: %w\nraw response: %s", err, raw)
	}
	if r.Awards == nil {
		return Report{}, ErrUnusableReport
	}
	return r, nil
}

// CleanModelJSON strips markdown fences and surrounding junk the model
// adds despite instructions, keeping the outermost JSON object.
func CleanModelJSON(raw string) string {
	s := strings.TrimSpace(raw)

	if strings.HasPrefix(s, "```") {
		// Drop the first line (``` or ```json).
		if idx := strings.Index(s, "\n"); idx != -1 {
			s = s[idx+1:]
		} else {
			return s
		}
		s = strings.TrimSpace(s)
	}

	if idx := strings.LastIndex(s, "```"); idx != -1 {
		s = s[:idx]
	}

	s = strings.TrimSpace(s)

	// If there is still junk around the object, keep first '{' to last '}'.
	if start := strings.Index(s, "{"); start != -1 {
		if end := strings.LastIndex(s, "}"); end != -1 && end > start {
			s = strings.TrimSpace(s[start : end+1])
		}
	}

	return s
}
