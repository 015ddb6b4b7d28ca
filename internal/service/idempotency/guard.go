// Package idempotency реализует повтор запросов по Idempotency-Key:
// первый запрос выполняется, повторы получают сохранённый ответ.
package idempotency

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/salesledger/internal/domain"
)

// DefaultTTL — сколько хранится ответ на запрос с ключом.
const DefaultTTL = 24 * time.Hour

// ErrInProgress — запрос с тем же ключом ещё выполняется.
var ErrInProgress = errors.New("request with the same idempotency key is already processing")

// Response — HTTP-ответ, который сохраняется и отдаётся при повторе.
type Response struct {
	Status int
	Body   []byte
}

// Guard оборачивает обработчик запроса логикой идемпотентности поверх репозитория.
type Guard struct {
	repo   domain.IdempotencyRepository
	ttl    time.Duration
	now    func() time.Time
	logger *log.Entry
}

// NewGuard создаёт Guard. ttl <= 0 заменяется на DefaultTTL.
func NewGuard(repo domain.IdempotencyRepository, ttl time.Duration, logger *log.Entry) *Guard {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = log.WithField("component", "idempotency-guard")
	}
	return &Guard{
		repo:   repo,
		ttl:    ttl,
		now:    func() time.Time { return time.Now().UTC() },
		logger: logger,
	}
}

// HashRequest считает отпечаток запроса по методу, пути и телу.
func HashRequest(method, path string, body []byte) string {
	sum := sha256.New()
	sum.Write([]byte(strings.ToUpper(method)))
	sum.Write([]byte{0})
	sum.Write([]byte(path))
	sum.Write([]byte{0})
	sum.Write(body)
	return hex.EncodeToString(sum.Sum(nil))
}

// Do выполняет run один раз на ключ. replayed=true, если ответ взят из хранилища.
// Пустой key или отсутствующий репозиторий отключают проверку.
//
// Ошибки: domain.ErrIdempotencyHashMismatch — ключ занят другим запросом;
// ErrInProgress — первый запрос ещё не завершён.
func (g *Guard) Do(key, requestHash string, run func() Response) (resp Response, replayed bool, err error) {
	key = strings.TrimSpace(key)
	if g == nil || g.repo == nil || key == "" {
		return run(), false, nil
	}

	record, err := g.repo.CreateProcessing(key, requestHash, g.now().Add(g.ttl))
	if err != nil {
		return g.replay(record, err)
	}

	resp = run()
	g.store(key, resp)
	return resp, false, nil
}

func (g *Guard) replay(record domain.IdempotencyRecord, createErr error) (Response, bool, error) {
	switch {
	case errors.Is(createErr, domain.ErrIdempotencyHashMismatch):
		return Response{}, false, createErr
	case errors.Is(createErr, domain.ErrIdempotencyKeyAlreadyExists):
		if !record.Finished() {
			return Response{}, false, ErrInProgress
		}
		status := record.HTTPStatus
		if status == 0 {
			status = http.StatusInternalServerError
		}
		return Response{Status: status, Body: record.ResponseBody}, true, nil
	default:
		return Response{}, false, fmt.Errorf("create idempotency record: %w", createErr)
	}
}

// store сохраняет ответ: 2xx как done, остальное как failed. Ошибка сохранения
// не влияет на уже выполненный запрос.
func (g *Guard) store(key string, resp Response) {
	var err error
	if resp.Status >= 200 && resp.Status < 300 {
		err = g.repo.MarkDone(key, resp.Body, resp.Status)
	} else {
		err = g.repo.MarkFailed(key, resp.Body, resp.Status)
	}
	if err != nil {
		g.logger.WithError(err).WithFields(log.Fields{
			"idempotency_key": key,
			"status":          resp.Status,
		}).Warn("failed to store idempotent response")
	}
}
