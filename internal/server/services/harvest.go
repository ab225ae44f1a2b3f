package services

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dmitrijs2005/fermentstation/internal/common"
	"github.com/dmitrijs2005/fermentstation/internal/email"
	"github.com/dmitrijs2005/fermentstation/internal/harvest"
	"github.com/dmitrijs2005/fermentstation/internal/logging"
	"github.com/dmitrijs2005/fermentstation/internal/server/archive"
	"github.com/dmitrijs2005/fermentstation/internal/server/config"
	"github.com/dmitrijs2005/fermentstation/internal/server/models"
)

const (
	contentTypePDF  = "application/pdf"
	contentTypeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

// Document is a rendered file ready to download or attach.
type Document struct {
	Name        string
	ContentType string
	Content     []byte
}

type HarvestSendInput struct {
	Sheet harvest.Sheet
	// To overrides the recipient's default addresses.
	To []string
}

type HarvestSendResult struct {
	Sent   []string
	Totals harvest.Totals
	// ArchiveKeys holds the PDF key first, then the workbook key.
	ArchiveKeys []string
	// ArchiveURL is a presigned link to the archived PDF.
	ArchiveURL string
}

// signer is implemented by mail clients that provide a signature block.
type signer interface {
	Signature() string
}

// HarvestService renders pickup sheets and mails them to the carrier.
type HarvestService struct {
	mailer       email.Sender
	store        archive.Store
	issuer       harvest.Issuer
	templatePath string
	bcc          string
	recipients   []harvest.Recipient
	log          logging.Logger
	now          func() time.Time
}

// NewHarvestService wires the service. store may be nil, in which case sent
// sheets are not archived.
func NewHarvestService(cfg *config.Config, mailer email.Sender, store archive.Store,
	recipients []harvest.Recipient, log logging.Logger) *HarvestService {
	return &HarvestService{
		mailer:       mailer,
		store:        store,
		issuer:       harvest.DefaultIssuer(),
		templatePath: cfg.HarvestTemplatePath,
		bcc:          strings.TrimSpace(cfg.EmailSender),
		recipients:   recipients,
		log:          log.With("module", "harvest"),
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// Recipients lists the known carriers.
func (s *HarvestService) Recipients() []harvest.Recipient {
	return s.recipients
}

// prepare fills defaults and validates. An unnamed-address recipient is
// completed from the directory.
func (s *HarvestService) prepare(sheet harvest.Sheet) (harvest.Sheet, error) {
	if sheet.CreatedOn.IsZero() {
		sheet.CreatedOn = s.now()
	}
	if sheet.PickupDate.IsZero() {
		sheet.PickupDate = sheet.CreatedOn
	}
	if r, ok := harvest.FindRecipient(s.recipients, sheet.Recipient.Name); ok {
		if len(sheet.Recipient.Lines) == 0 {
			sheet.Recipient.Lines = r.Lines
		}
		if len(sheet.Recipient.Emails) == 0 {
			sheet.Recipient.Emails = r.Emails
		}
	}
	if err := sheet.Validate(); err != nil {
		return sheet, err
	}
	return sheet, nil
}

// Preview computes pallets, weights and totals without rendering anything.
func (s *HarvestService) Preview(sheet harvest.Sheet) ([]harvest.ComputedLine, harvest.Totals, error) {
	sheet, err := s.prepare(sheet)
	if err != nil {
		return nil, harvest.Totals{}, err
	}
	lines, totals := sheet.Compute()
	return lines, totals, nil
}

func (s *HarvestService) PDF(ctx context.Context, sheet harvest.Sheet) (*Document, error) {
	sheet, err := s.prepare(sheet)
	if err != nil {
		return nil, err
	}
	return s.renderPDF(ctx, sheet.NonEmpty())
}

func (s *HarvestService) renderPDF(ctx context.Context, sheet harvest.Sheet) (*Document, error) {
	b, err := harvest.PDF(sheet, s.issuer)
	if err != nil {
		s.log.Error(ctx, "pdf rendering failed", "error", err)
		return nil, common.ErrorInternal
	}
	return &Document{Name: sheet.FileName("pdf"), ContentType: contentTypePDF, Content: b}, nil
}

// Excel fills the configured template, or generates a workbook when none is set.
func (s *HarvestService) Excel(ctx context.Context, sheet harvest.Sheet) (*Document, error) {
	sheet, err := s.prepare(sheet)
	if err != nil {
		return nil, err
	}
	sheet = sheet.NonEmpty()

	var b []byte
	if s.templatePath != "" {
		b, err = s.fillTemplate(sheet)
	} else {
		b, err = harvest.Workbook(sheet, s.issuer)
	}
	if err != nil {
		s.log.Error(ctx, "xlsx rendering failed", "template", s.templatePath, "error", err)
		return nil, common.ErrorInternal
	}
	return &Document{Name: sheet.FileName("xlsx"), ContentType: contentTypeXLSX, Content: b}, nil
}

func (s *HarvestService) fillTemplate(sheet harvest.Sheet) ([]byte, error) {
	raw, err := os.ReadFile(s.templatePath)
	if err != nil {
		return nil, err
	}
	return harvest.FillTemplate(bytes.NewReader(raw), sheet)
}

// Send mails the sheet (PDF and workbook) to every address, one message
// each, with the sender copied. Sending stops at the first failure. Both files
// are archived once all messages are out; archiving problems are logged and
// do not fail the call.
func (s *HarvestService) Send(ctx context.Context, id models.Identity, in HarvestSendInput) (*HarvestSendResult, error) {
	sheet, err := s.prepare(in.Sheet)
	if err != nil {
		return nil, err
	}
	sheet = sheet.NonEmpty()

	to := cleanAddresses(in.To)
	if len(to) == 0 {
		to = cleanAddresses(sheet.Recipient.Emails)
	}
	if len(to) == 0 {
		return nil, common.NewValidationError("to", "at least one recipient address is required")
	}
	if s.bcc != "" && !containsFold(to, s.bcc) {
		to = append(to, s.bcc)
	}

	pdf, err := s.renderPDF(ctx, sheet)
	if err != nil {
		return nil, err
	}
	xlsx, err := s.Excel(ctx, sheet)
	if err != nil {
		return nil, err
	}
	docs := []*Document{pdf, xlsx}

	_, totals := sheet.Compute()
	msg := email.Message{
		Subject: harvestSubject(sheet.PickupDate),
		HTML:    s.harvestBody(totals.Pallets),
	}
	for _, d := range docs {
		msg.Attachments = append(msg.Attachments, email.Attachment{Name: d.Name, Content: d.Content})
	}

	res := &HarvestSendResult{Totals: totals}
	for _, addr := range to {
		msg.To = addr
		if _, err := s.mailer.Send(ctx, msg); err != nil {
			s.log.Error(ctx, "pickup request not sent", "to", addr, "sent", len(res.Sent), "error", err)
			return nil, err
		}
		res.Sent = append(res.Sent, addr)
	}
	s.log.Info(ctx, "pickup request sent", "tenant_id", id.TenantID, "user_id", id.UserID,
		"recipient", sheet.Recipient.Name, "pallets", totals.Pallets, "messages", len(res.Sent))

	if s.store != nil {
		s.archive(ctx, id, sheet, docs, res)
	}
	return res, nil
}

// archive stores every rendition under one document id and links the PDF.
func (s *HarvestService) archive(ctx context.Context, id models.Identity, sheet harvest.Sheet, docs []*Document, res *HarvestSendResult) {
	docID := archive.NewDocumentID()
	for _, d := range docs {
		key := archive.HarvestKey(id.TenantID, sheet.PickupDate, docID, strings.TrimPrefix(filepath.Ext(d.Name), "."))
		if err := s.store.Put(ctx, key, d.Content, d.ContentType); err != nil {
			s.log.Warn(ctx, "pickup sheet not archived", "key", key, "error", err)
			return
		}
		res.ArchiveKeys = append(res.ArchiveKeys, key)
	}

	link, err := s.store.PresignGet(ctx, res.ArchiveKeys[0], archive.DefaultLinkTTL)
	if err != nil {
		s.log.Warn(ctx, "presign failed", "key", res.ArchiveKeys[0], "error", err)
		return
	}
	res.ArchiveURL = link
}

func harvestSubject(pickup time.Time) string {
	return fmt.Sprintf("Demande de ramasse — %s — Ferment Station", pickup.Format(harvest.DateLayout))
}

func (s *HarvestService) harvestBody(pallets int) string {
	plural := "s"
	if pallets == 1 {
		plural = ""
	}
	body := fmt.Sprintf("<p>Bonjour,</p>\n"+
		"<p>Nous aurions besoin d'une ramasse pour demain.<br>\n"+
		"Pour <strong>%d</strong> palette%s.</p>\n"+
		"<p>Merci,<br>Bon après-midi.</p>", pallets, plural)
	if sg, ok := s.mailer.(signer); ok {
		body += sg.Signature()
	}
	return body
}

func cleanAddresses(in []string) []string {
	out := make([]string, 0, len(in))
	for _, raw := range in {
		for _, a := range strings.Split(raw, ",") {
			if a = strings.TrimSpace(a); a != "" && !containsFold(out, a) {
				out = append(out, a)
			}
		}
	}
	return out
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}
