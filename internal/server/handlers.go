package server

import (
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/ArionMiles/mailspend/pkg/api"
	"github.com/ArionMiles/mailspend/pkg/orchestrator"
	"github.com/ArionMiles/mailspend/pkg/report"
	"github.com/ArionMiles/mailspend/pkg/template"
)

func parseBody(c *fiber.Ctx, out any) error {
	if err := c.BodyParser(out); err != nil {
		return badRequest("invalid request body: " + err.Error())
	}
	return nil
}

func paramID(c *fiber.Ctx) (int64, error) {
	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, badRequest("invalid id " + strconv.Quote(c.Params("id")))
	}
	return id, nil
}

// parseTime accepts a date (2006-01-02, UTC midnight) or an RFC 3339 timestamp.
func parseTime(field, value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.DateOnly, value); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, badRequest("invalid " + field + ": " + strconv.Quote(value))
	}
	return t, nil
}

type generateRequest struct {
	Block   string `json:"block"`
	Body    string `json:"body"`
	Query   string `json:"query"`
	Subject string `json:"subject"`
	From    string `json:"from"`
}

type generateResponse struct {
	template.AutoConfig
	Candidates []template.Candidate `json:"candidates"`
}

func (s *Server) generateTemplate(c *fiber.Ctx) error {
	var req generateRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	if strings.TrimSpace(req.Block) == "" {
		return badRequest("block is required")
	}

	query := req.Query
	if query == "" {
		query = template.BuildQuery(req.Subject, req.From)
	}

	cfg, err := template.GenerateTemplate(req.Block, req.Body, query)
	if err != nil {
		return err
	}
	return c.JSON(generateResponse{AutoConfig: cfg, Candidates: template.Candidates(req.Block)})
}

type extractRequest struct {
	Body     string       `json:"body"`
	Template api.Template `json:"template"`
}

func (s *Server) extractTemplate(c *fiber.Ctx) error {
	var req extractRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	if err := template.Validate(req.Template); err != nil {
		return err
	}
	return c.JSON(s.extractor.Extract(req.Body, req.Template))
}

func (s *Server) listProviders(c *fiber.Ctx) error {
	providers, err := s.store.ListProviders(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(providers)
}

func (s *Server) saveProvider(c *fiber.Ctx) error {
	var p api.Provider
	if err := parseBody(c, &p); err != nil {
		return err
	}
	p.Name = strings.TrimSpace(p.Name)
	if p.Name == "" {
		return badRequest("name is required")
	}
	if err := template.Validate(p.Template); err != nil {
		return err
	}

	saved, err := s.store.SaveProvider(c.UserContext(), p)
	if err != nil {
		return err
	}
	return c.JSON(saved)
}

func (s *Server) deleteProvider(c *fiber.Ctx) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	if err := s.store.DeleteProvider(c.UserContext(), id); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) listCategories(c *fiber.Ctx) error {
	cats, err := s.store.ListCategories(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(cats)
}

func (s *Server) createCategory(c *fiber.Ctx) error {
	var cat api.Category
	if err := parseBody(c, &cat); err != nil {
		return err
	}
	if strings.TrimSpace(cat.Name) == "" {
		return badRequest("name is required")
	}

	created, err := s.store.InsertCategory(c.UserContext(), cat)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(created)
}

func (s *Server) deleteCategory(c *fiber.Ctx) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	ctx := c.UserContext()
	if err := s.store.DeleteCategory(ctx, id); err != nil {
		return err
	}
	if err := s.engine.Reload(ctx); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) listRules(c *fiber.Ctx) error {
	if err := s.engine.Init(c.UserContext()); err != nil {
		return err
	}
	return c.JSON(s.engine.Rules())
}

func (s *Server) addRule(c *fiber.Ctx) error {
	var rule api.Rule
	if err := parseBody(c, &rule); err != nil {
		return err
	}
	created, err := s.engine.AddRule(c.UserContext(), rule)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(created)
}

func (s *Server) editRule(c *fiber.Ctx) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	var rule api.Rule
	if err := parseBody(c, &rule); err != nil {
		return err
	}
	rule.ID = id

	updated, err := s.engine.EditRule(c.UserContext(), rule)
	if err != nil {
		return err
	}
	return c.JSON(updated)
}

func (s *Server) deleteRule(c *fiber.Ctx) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	if err := s.engine.DeleteRule(c.UserContext(), id); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

type categorizeRequest struct {
	Merchant string `json:"merchant"`
}

type categorizeResponse struct {
	Merchant string `json:"merchant"`
	Category string `json:"category"`
}

func (s *Server) categorize(c *fiber.Ctx) error {
	var req categorizeRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	if err := s.engine.Init(c.UserContext()); err != nil {
		return err
	}
	return c.JSON(categorizeResponse{Merchant: req.Merchant, Category: s.engine.Categorize(req.Merchant)})
}

type syncItem struct {
	ID         string `json:"id"`
	ProviderID int64  `json:"providerId"`
	Status     string `json:"status"`
	Error      string `json:"error,omitempty"`
}

// SyncResponse is the JSON form of an orchestrator.Result.
type SyncResponse struct {
	Synced       int               `json:"synced"`
	Skipped      int               `json:"skipped"`
	Failed       int               `json:"failed"`
	Error        string            `json:"error,omitempty"`
	Items        []syncItem        `json:"items"`
	Transactions []api.Transaction `json:"transactions"`
}

func newSyncResponse(res *orchestrator.Result) SyncResponse {
	out := SyncResponse{
		Synced:       res.Synced(),
		Skipped:      res.Skipped(),
		Failed:       res.Failed(),
		Items:        make([]syncItem, 0, len(res.Items)),
		Transactions: res.Transactions,
	}
	if out.Transactions == nil {
		out.Transactions = []api.Transaction{}
	}
	if err := res.Err(); err != nil {
		out.Error = err.Error()
	}
	for _, it := range res.Items {
		item := syncItem{ID: it.ID, ProviderID: it.ProviderID, Status: string(it.Status)}
		if it.Error != nil {
			item.Error = it.Error.Error()
		}
		out.Items = append(out.Items, item)
	}
	return out
}

func (s *Server) sync(c *fiber.Ctx) error {
	if s.syncer == nil {
		return fiber.NewError(fiber.StatusServiceUnavailable, "sync is not configured")
	}
	res, err := s.syncer.Sync(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(newSyncResponse(res))
}

func (s *Server) transactionFilter(c *fiber.Ctx) (api.TransactionFilter, error) {
	var (
		f   api.TransactionFilter
		err error
	)
	if f.From, err = parseTime("from", c.Query("from")); err != nil {
		return f, err
	}
	if f.To, err = parseTime("to", c.Query("to")); err != nil {
		return f, err
	}
	if v := c.Query("providerId"); v != "" {
		if f.ProviderID, err = strconv.ParseInt(v, 10, 64); err != nil {
			return f, badRequest("invalid providerId " + strconv.Quote(v))
		}
	}
	if v := c.Query("limit"); v != "" {
		if f.Limit, err = strconv.Atoi(v); err != nil || f.Limit < 0 {
			return f, badRequest("invalid limit " + strconv.Quote(v))
		}
	}
	f.Category = c.Query("category")
	return f, nil
}

func (s *Server) listTransactions(c *fiber.Ctx) error {
	f, err := s.transactionFilter(c)
	if err != nil {
		return err
	}
	txs, err := s.store.ListTransactions(c.UserContext(), f)
	if err != nil {
		return err
	}
	if txs == nil {
		txs = []api.Transaction{}
	}
	return c.JSON(txs)
}

type manualTransactionRequest struct {
	Merchant string              `json:"merchant"`
	Amount   float64             `json:"amount"`
	Currency string              `json:"currency"`
	Date     string              `json:"date"`
	Category string              `json:"category"`
	Type     api.TransactionType `json:"type"`
	Notes    string              `json:"notes"`
}

func (s *Server) addTransaction(c *fiber.Ctx) error {
	var req manualTransactionRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}

	tx, err := s.manualTransaction(c, req)
	if err != nil {
		return err
	}
	if err := s.store.InsertTransaction(c.UserContext(), tx); err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(tx)
}

func (s *Server) manualTransaction(c *fiber.Ctx, req manualTransactionRequest) (api.Transaction, error) {
	req.Merchant = strings.TrimSpace(req.Merchant)
	switch {
	case req.Merchant == "":
		return api.Transaction{}, badRequest("merchant is required")
	case req.Amount <= 0:
		return api.Transaction{}, badRequest("amount must be positive")
	case req.Type != "" && req.Type != api.Income && req.Type != api.Expense:
		return api.Transaction{}, badRequest("type must be income or expense")
	}

	date, err := parseTime("date", req.Date)
	if err != nil {
		return api.Transaction{}, err
	}
	if date.IsZero() {
		date = s.now().UTC()
	}

	category := strings.TrimSpace(req.Category)
	if category == "" {
		if err := s.engine.Init(c.UserContext()); err != nil {
			return api.Transaction{}, err
		}
		category = s.engine.Categorize(req.Merchant)
	}

	return api.NewManualTransaction(api.Transaction{
		Merchant: req.Merchant,
		Amount:   req.Amount,
		Currency: strings.ToUpper(strings.TrimSpace(req.Currency)),
		Date:     date,
		Category: category,
		Type:     req.Type,
		Notes:    req.Notes,
	}), nil
}

func (s *Server) cashFlow(c *fiber.Ctx) error {
	year := s.now().UTC().Year()
	if v := c.Query("year"); v != "" {
		y, err := strconv.Atoi(v)
		if err != nil || y < 1 {
			return badRequest("invalid year " + strconv.Quote(v))
		}
		year = y
	}

	from := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
	txs, err := s.store.ListTransactions(c.UserContext(), api.TransactionFilter{From: from, To: from.AddDate(1, 0, 0)})
	if err != nil {
		return err
	}
	return c.JSON(report.MonthlyCashFlow(txs, year))
}

func (s *Server) categorySpending(c *fiber.Ctx) error {
	f, err := s.transactionFilter(c)
	if err != nil {
		return err
	}
	if !f.From.IsZero() && !f.To.IsZero() && !f.From.Before(f.To) {
		return badRequest("from must be before to")
	}

	ctx := c.UserContext()
	txs, err := s.store.ListTransactions(ctx, api.TransactionFilter{From: f.From, To: f.To})
	if err != nil {
		return err
	}
	cats, err := s.store.ListCategories(ctx)
	if err != nil {
		return err
	}
	return c.JSON(report.CategorySpending(txs, cats, f.From, f.To))
}
