package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/lenteraid/transparency-api/internal/models"
)

const donationColumns = "id, donor_name, donation_type, cash_details, in_kind_details, program_id, community_name, note, received_at, created_at, updated_at"

// DonationRepository provides database access for donations.
type DonationRepository struct {
	db *sqlx.DB
}

// NewDonationRepository constructs the repository.
func NewDonationRepository(db *sqlx.DB) *DonationRepository {
	return &DonationRepository{db: db}
}

// FindByID returns a donation by identifier.
func (r *DonationRepository) FindByID(ctx context.Context, id string) (*models.Donation, error) {
	query := fmt.Sprintf("SELECT %s FROM donations WHERE id = $1 LIMIT 1", donationColumns)
	var donation models.Donation
	if err := r.db.GetContext(ctx, &donation, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find donation by id: %w", err)
	}
	return &donation, nil
}

// List returns donations matching the filter with total count.
func (r *DonationRepository) List(ctx context.Context, filter models.DonationFilter) ([]models.Donation, int, error) {
	baseQuery := `FROM donations WHERE 1=1`
	var conditions []string
	var args []interface{}

	if filter.DonationType != nil {
		conditions = append(conditions, fmt.Sprintf("donation_type = $%d", len(args)+1))
		args = append(args, *filter.DonationType)
	}
	if filter.CommunityName != "" {
		conditions = append(conditions, fmt.Sprintf("community_name = $%d", len(args)+1))
		args = append(args, filter.CommunityName)
	}
	if filter.ProgramID != nil {
		conditions = append(conditions, fmt.Sprintf("program_id = $%d", len(args)+1))
		args = append(args, *filter.ProgramID)
	}
	if filter.From != nil {
		conditions = append(conditions, fmt.Sprintf("received_at >= $%d", len(args)+1))
		args = append(args, *filter.From)
	}
	if filter.To != nil {
		conditions = append(conditions, fmt.Sprintf("received_at <= $%d", len(args)+1))
		args = append(args, *filter.To)
	}

	if len(conditions) > 0 {
		baseQuery += " AND " + strings.Join(conditions, " AND ")
	}

	sortBy := filter.SortBy
	allowedSorts := map[string]bool{
		"received_at": true,
		"donor_name":  true,
		"created_at":  true,
		"updated_at":  true,
	}
	if !allowedSorts[sortBy] {
		sortBy = "received_at"
	}

	sortOrder := strings.ToUpper(filter.SortOrder)
	if sortOrder != "ASC" && sortOrder != "DESC" {
		sortOrder = "DESC"
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 || pageSize > 500 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	listQuery := fmt.Sprintf("SELECT %s %s ORDER BY %s %s LIMIT %d OFFSET %d", donationColumns, baseQuery, sortBy, sortOrder, pageSize, offset)

	var donations []models.Donation
	if err := r.db.SelectContext(ctx, &donations, listQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("list donations: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", baseQuery)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count donations: %w", err)
	}

	return donations, total, nil
}

// Create inserts a new donation row.
func (r *DonationRepository) Create(ctx context.Context, donation *models.Donation) error {
	if donation.ID == "" {
		donation.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if donation.CreatedAt.IsZero() {
		donation.CreatedAt = now
	}
	donation.UpdatedAt = now
	const query = `INSERT INTO donations (id, donor_name, donation_type, cash_details, in_kind_details, program_id, community_name, note, received_at, created_at, updated_at)
VALUES (:id, :donor_name, :donation_type, :cash_details, :in_kind_details, :program_id, :community_name, :note, :received_at, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, donation); err != nil {
		return fmt.Errorf("create donation: %w", err)
	}
	return nil
}

// Update persists mutable donation fields.
func (r *DonationRepository) Update(ctx context.Context, donation *models.Donation) error {
	donation.UpdatedAt = time.Now().UTC()
	const query = `UPDATE donations SET donor_name = :donor_name, donation_type = :donation_type, cash_details = :cash_details, in_kind_details = :in_kind_details, program_id = :program_id, community_name = :community_name, note = :note, received_at = :received_at, updated_at = :updated_at WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, donation); err != nil {
		return fmt.Errorf("update donation: %w", err)
	}
	return nil
}

// Delete removes a donation row.
func (r *DonationRepository) Delete(ctx context.Context, id string) error {
	const query = `DELETE FROM donations WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("delete donation: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete donation rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
