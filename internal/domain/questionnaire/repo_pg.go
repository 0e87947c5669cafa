package questionnaire

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// =========== Questionnaire Repository ===========

type questionnaireRepoPG struct{ pool *pgxpool.Pool }

func NewQuestionnaireRepoPG(pool *pgxpool.Pool) QuestionnaireRepository {
	return &questionnaireRepoPG{pool: pool}
}

func (r *questionnaireRepoPG) Create(ctx context.Context, q *Questionnaire) error {
	q.UUID = uuid.New()
	if q.ID == "" {
		q.ID = q.UUID.String()
	}
	resource, err := json.Marshal(q)
	if err != nil {
		return fmt.Errorf("marshal questionnaire: %w", err)
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO questionnaire (id, fhir_id, url, title, status, resource)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		q.UUID, q.ID, q.URL, q.Title, q.Status, resource)
	return err
}

func (r *questionnaireRepoPG) scanQuestionnaire(row pgx.Row) (*Questionnaire, error) {
	var id uuid.UUID
	var resource []byte
	if err := row.Scan(&id, &resource); err != nil {
		return nil, err
	}
	q, err := ParseQuestionnaire(resource)
	if err != nil {
		return nil, err
	}
	q.UUID = id
	return q, nil
}

func (r *questionnaireRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Questionnaire, error) {
	q, err := r.scanQuestionnaire(r.pool.QueryRow(ctx,
		`SELECT id, resource FROM questionnaire WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("questionnaire %s: %w", id, ErrNotFound)
	}
	return q, err
}

func (r *questionnaireRepoPG) GetByFHIRID(ctx context.Context, fhirID string) (*Questionnaire, error) {
	q, err := r.scanQuestionnaire(r.pool.QueryRow(ctx,
		`SELECT id, resource FROM questionnaire WHERE fhir_id = $1`, fhirID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("questionnaire %s: %w", fhirID, ErrNotFound)
	}
	return q, err
}

func (r *questionnaireRepoPG) List(ctx context.Context, limit, offset int) ([]*Questionnaire, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM questionnaire`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, resource FROM questionnaire
		ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*Questionnaire
	for rows.Next() {
		q, err := r.scanQuestionnaire(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, q)
	}
	return items, total, rows.Err()
}

// =========== Questionnaire Response Repository ===========

type responseRepoPG struct{ pool *pgxpool.Pool }

func NewResponseRepoPG(pool *pgxpool.Pool) ResponseRepository {
	return &responseRepoPG{pool: pool}
}

func (r *responseRepoPG) Save(ctx context.Context, qr *QuestionnaireResponse) error {
	resource, err := json.Marshal(qr)
	if err != nil {
		return fmt.Errorf("marshal questionnaire response: %w", err)
	}
	var subject *string
	if qr.Subject != nil {
		subject = &qr.Subject.Reference
	}
	var authored *time.Time
	if t, err := time.Parse(time.RFC3339, qr.Authored); err == nil {
		authored = &t
	}
	var updated time.Time
	err = r.pool.QueryRow(ctx, `
		INSERT INTO questionnaire_response (id, fhir_id, questionnaire_id, subject, status, authored, resource)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (fhir_id) DO UPDATE
		SET status = EXCLUDED.status, authored = EXCLUDED.authored,
			resource = EXCLUDED.resource, updated_at = NOW()
		RETURNING updated_at`,
		uuid.New(), qr.ID, qr.QuestionnaireUUID, subject, qr.Status, authored, resource).Scan(&updated)
	if err != nil {
		return err
	}
	qr.UpdatedAt = updated
	return nil
}

const responseCols = `questionnaire_id, resource, updated_at`

func (r *responseRepoPG) scanResponse(row pgx.Row) (*QuestionnaireResponse, error) {
	var qid uuid.UUID
	var resource []byte
	var updated time.Time
	if err := row.Scan(&qid, &resource, &updated); err != nil {
		return nil, err
	}
	qr, err := ParseQuestionnaireResponse(resource)
	if err != nil {
		return nil, err
	}
	qr.QuestionnaireUUID = qid
	qr.UpdatedAt = updated
	return qr, nil
}

func (r *responseRepoPG) GetByFHIRID(ctx context.Context, fhirID string) (*QuestionnaireResponse, error) {
	qr, err := r.scanResponse(r.pool.QueryRow(ctx,
		`SELECT `+responseCols+` FROM questionnaire_response WHERE fhir_id = $1`, fhirID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("questionnaire response %s: %w", fhirID, ErrNotFound)
	}
	return qr, err
}

func (r *responseRepoPG) ListByQuestionnaire(ctx context.Context, questionnaireID uuid.UUID, limit, offset int) ([]*QuestionnaireResponse, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM questionnaire_response WHERE questionnaire_id = $1`, questionnaireID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.pool.Query(ctx, `SELECT `+responseCols+` FROM questionnaire_response
		WHERE questionnaire_id = $1 ORDER BY updated_at DESC LIMIT $2 OFFSET $3`, questionnaireID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*QuestionnaireResponse
	for rows.Next() {
		qr, err := r.scanResponse(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, qr)
	}
	return items, total, rows.Err()
}
