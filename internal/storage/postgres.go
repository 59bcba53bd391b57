package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/your-org/fanarchive/internal/config"
	"github.com/your-org/fanarchive/internal/models"
)

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(cfg config.DatabaseConfig) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.MaxConns)

	pool, err := pgxpool.NewWithConfig(context.Background(), poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- Users ---

func (s *PostgresStore) CreateUser(ctx context.Context, username, email, passwordHash string) (*models.User, error) {
	u := &models.User{
		ID:           uuid.New(),
		Username:     username,
		Email:        email,
		PasswordHash: passwordHash,
	}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO users (id, username, email, password_hash) VALUES ($1, $2, $3, $4) RETURNING created_at`,
		u.ID, u.Username, u.Email, u.PasswordHash,
	).Scan(&u.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	return u, nil
}

func (s *PostgresStore) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	u := &models.User{}
	err := s.pool.QueryRow(ctx,
		`SELECT id, username, email, password_hash, created_at FROM users WHERE username = $1`, username,
	).Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get user by username: %w", err)
	}
	return u, nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	u := &models.User{}
	err := s.pool.QueryRow(ctx,
		`SELECT id, username, email, password_hash, created_at FROM users WHERE email = $1`, email,
	).Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get user by email: %w", err)
	}
	return u, nil
}

func (s *PostgresStore) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	u := &models.User{}
	err := s.pool.QueryRow(ctx,
		`SELECT id, username, email, password_hash, created_at FROM users WHERE id = $1`, id,
	).Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

// --- Group identities ---

// UpsertGroupIdol resolves the group identity for a (group, idol) pair,
// creating it on first reference.
func (s *PostgresStore) UpsertGroupIdol(ctx context.Context, groupName, idolName string) (*models.GroupIdol, error) {
	g := &models.GroupIdol{}
	key := models.GroupIdolKey(groupName, idolName)
	err := s.pool.QueryRow(ctx,
		`INSERT INTO group_idols (id, group_name, idol_name, group_idol_key)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (group_idol_key) DO UPDATE SET updated_at = now()
		 RETURNING id, group_name, idol_name, group_idol_key, image_count, created_at, updated_at`,
		uuid.New(), groupName, idolName, key,
	).Scan(&g.ID, &g.GroupName, &g.IdolName, &g.Key, &g.ImageCount, &g.CreatedAt, &g.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("upsert group idol: %w", err)
	}
	return g, nil
}

// AdjustImageCount applies delta to a group identity's archive count. The
// single-statement update serializes concurrent adjustments on the row.
func (s *PostgresStore) AdjustImageCount(ctx context.Context, id uuid.UUID, delta int) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE group_idols SET image_count = GREATEST(0, image_count + $1), updated_at = now() WHERE id = $2`,
		delta, id)
	if err != nil {
		return fmt.Errorf("adjust image count: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetGroupIdolByKey(ctx context.Context, key string) (*models.GroupIdol, error) {
	g := &models.GroupIdol{}
	err := s.pool.QueryRow(ctx,
		`SELECT id, group_name, idol_name, group_idol_key, image_count, created_at, updated_at
		 FROM group_idols WHERE group_idol_key = $1`, key,
	).Scan(&g.ID, &g.GroupName, &g.IdolName, &g.Key, &g.ImageCount, &g.CreatedAt, &g.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get group idol: %w", err)
	}
	return g, nil
}

func (s *PostgresStore) ListGroupIdols(ctx context.Context) ([]models.GroupIdol, error) {
	return s.queryGroupIdols(ctx,
		`SELECT id, group_name, idol_name, group_idol_key, image_count, created_at, updated_at
		 FROM group_idols ORDER BY created_at DESC`)
}

func (s *PostgresStore) ListGroupIdolsByGroup(ctx context.Context, groupName string) ([]models.GroupIdol, error) {
	return s.queryGroupIdols(ctx,
		`SELECT id, group_name, idol_name, group_idol_key, image_count, created_at, updated_at
		 FROM group_idols WHERE lower(group_name) = lower($1) ORDER BY idol_name`, groupName)
}

func (s *PostgresStore) ListGroupIdolsByIdol(ctx context.Context, idolName string) ([]models.GroupIdol, error) {
	return s.queryGroupIdols(ctx,
		`SELECT id, group_name, idol_name, group_idol_key, image_count, created_at, updated_at
		 FROM group_idols WHERE lower(idol_name) = lower($1) ORDER BY group_name`, idolName)
}

func (s *PostgresStore) queryGroupIdols(ctx context.Context, query string, args ...any) ([]models.GroupIdol, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list group idols: %w", err)
	}
	defer rows.Close()

	var groups []models.GroupIdol
	for rows.Next() {
		var g models.GroupIdol
		if err := rows.Scan(&g.ID, &g.GroupName, &g.IdolName, &g.Key, &g.ImageCount, &g.CreatedAt, &g.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan group idol: %w", err)
		}
		groups = append(groups, g)
	}
	return groups, nil
}

// --- Images ---

const imageColumns = `id, idol_name, group_name, image_url, storage_key, phash, original_file_name,
	file_size, content_type, uploaded_at, analysis, verified, in_personal_gallery, in_group_archive,
	user_id, group_idol_id`

func (s *PostgresStore) SaveImage(ctx context.Context, img *models.IdolImage) error {
	if img.ID == uuid.Nil {
		img.ID = uuid.New()
	}
	return s.pool.QueryRow(ctx,
		`INSERT INTO idol_images (id, idol_name, group_name, image_url, storage_key, phash,
		   original_file_name, file_size, content_type, analysis, verified,
		   in_personal_gallery, in_group_archive, user_id, group_idol_id)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		 RETURNING uploaded_at`,
		img.ID, img.IdolName, img.GroupName, img.ImageURL, img.StorageKey, img.PHash,
		img.OriginalFileName, img.FileSize, img.ContentType, img.Analysis, img.Verified,
		img.InPersonalGallery, img.InGroupArchive, img.UserID, img.GroupIdolID,
	).Scan(&img.UploadedAt)
}

// FindPHashesByUser returns every fingerprint already stored for the user's
// gallery, for the cross-session duplicate check.
func (s *PostgresStore) FindPHashesByUser(ctx context.Context, userID uuid.UUID) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT phash FROM idol_images WHERE user_id = $1`, userID)
	if err != nil {
		return nil, fmt.Errorf("find phashes by user: %w", err)
	}
	defer rows.Close()

	var hashes []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, fmt.Errorf("scan phash: %w", err)
		}
		hashes = append(hashes, h)
	}
	return hashes, nil
}

func (s *PostgresStore) GetImage(ctx context.Context, id uuid.UUID) (*models.IdolImage, error) {
	img := &models.IdolImage{}
	err := s.pool.QueryRow(ctx,
		`SELECT `+imageColumns+` FROM idol_images WHERE id = $1`, id,
	).Scan(&img.ID, &img.IdolName, &img.GroupName, &img.ImageURL, &img.StorageKey, &img.PHash,
		&img.OriginalFileName, &img.FileSize, &img.ContentType, &img.UploadedAt, &img.Analysis,
		&img.Verified, &img.InPersonalGallery, &img.InGroupArchive, &img.UserID, &img.GroupIdolID)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get image: %w", err)
	}
	return img, nil
}

func (s *PostgresStore) ListImagesByIdol(ctx context.Context, idolName, groupName string) ([]models.IdolImage, error) {
	return s.queryImages(ctx,
		`SELECT `+imageColumns+` FROM idol_images
		 WHERE lower(idol_name) = lower($1) AND lower(group_name) = lower($2)
		 ORDER BY uploaded_at DESC`, idolName, groupName)
}

func (s *PostgresStore) ListVerifiedImages(ctx context.Context) ([]models.IdolImage, error) {
	return s.queryImages(ctx,
		`SELECT `+imageColumns+` FROM idol_images WHERE verified ORDER BY uploaded_at DESC`)
}

func (s *PostgresStore) ListImagesByUser(ctx context.Context, userID uuid.UUID) ([]models.IdolImage, error) {
	return s.queryImages(ctx,
		`SELECT `+imageColumns+` FROM idol_images WHERE user_id = $1 ORDER BY uploaded_at DESC`, userID)
}

func (s *PostgresStore) ListPersonalGallery(ctx context.Context, userID uuid.UUID) ([]models.IdolImage, error) {
	return s.queryImages(ctx,
		`SELECT `+imageColumns+` FROM idol_images
		 WHERE user_id = $1 AND in_personal_gallery ORDER BY uploaded_at DESC`, userID)
}

func (s *PostgresStore) ListPersonalIdolImages(ctx context.Context, userID uuid.UUID, idolName, groupName string) ([]models.IdolImage, error) {
	return s.queryImages(ctx,
		`SELECT `+imageColumns+` FROM idol_images
		 WHERE user_id = $1 AND lower(idol_name) = lower($2) AND lower(group_name) = lower($3)
		   AND in_personal_gallery
		 ORDER BY uploaded_at DESC`, userID, idolName, groupName)
}

// ListGroupSharedImages returns the archive for one group identity: verified
// images flagged into the shared archive.
func (s *PostgresStore) ListGroupSharedImages(ctx context.Context, groupIdolKey string) ([]models.IdolImage, error) {
	return s.queryImages(ctx,
		`SELECT `+imageColumns+` FROM idol_images i
		 WHERE i.group_idol_id = (SELECT id FROM group_idols WHERE group_idol_key = $1)
		   AND i.in_group_archive AND i.verified
		 ORDER BY i.uploaded_at DESC`, groupIdolKey)
}

func (s *PostgresStore) ListAllGroupSharedImages(ctx context.Context) ([]models.IdolImage, error) {
	return s.queryImages(ctx,
		`SELECT `+imageColumns+` FROM idol_images
		 WHERE in_group_archive AND verified ORDER BY uploaded_at DESC`)
}

func (s *PostgresStore) DeleteImage(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM idol_images WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete image: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("image not found")
	}
	return nil
}

func (s *PostgresStore) queryImages(ctx context.Context, query string, args ...any) ([]models.IdolImage, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list images: %w", err)
	}
	defer rows.Close()

	var images []models.IdolImage
	for rows.Next() {
		var img models.IdolImage
		if err := rows.Scan(&img.ID, &img.IdolName, &img.GroupName, &img.ImageURL, &img.StorageKey,
			&img.PHash, &img.OriginalFileName, &img.FileSize, &img.ContentType, &img.UploadedAt,
			&img.Analysis, &img.Verified, &img.InPersonalGallery, &img.InGroupArchive,
			&img.UserID, &img.GroupIdolID); err != nil {
			return nil, fmt.Errorf("scan image: %w", err)
		}
		images = append(images, img)
	}
	return images, nil
}
