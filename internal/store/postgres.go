package store

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"kyri56xcaesar/teamcore/internal/models"
)

type PostgresConfig struct {
	// URL, when set, is used as the connection string as is.
	URL         string
	Address     string
	User        string
	Password    string
	Name        string
	InitSQLPath string
}

type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres connects, pings and applies the init script.
func NewPostgres(ctx context.Context, cfg PostgresConfig) (*Postgres, error) {
	dsn := cfg.URL
	if dsn == "" {
		dsn = fmt.Sprintf(
			"postgres://%s:%s@%s/%s?sslmode=disable",
			cfg.User,
			cfg.Password,
			cfg.Address,
			cfg.Name,
		)
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("could not connect to the database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping the db: %w", err)
	}

	if cfg.InitSQLPath != "" {
		b, err := os.ReadFile(cfg.InitSQLPath)
		if err != nil {
			pool.Close()
			return nil, fmt.Errorf("failed to open and read the init sql file: %w", err)
		}
		log.Printf("executing initialization script...")
		if _, err := pool.Exec(ctx, string(b)); err != nil {
			pool.Close()
			return nil, fmt.Errorf("failed to execute init sql: %w", err)
		}
	}

	return &Postgres{pool: pool}, nil
}

func (p *Postgres) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (p *Postgres) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

func (p *Postgres) Close() {
	p.pool.Close()
}

type pgTx struct {
	tx pgx.Tx
}

func translate(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrDuplicate
	}
	return err
}

func lockClause(forUpdate bool) string {
	if forUpdate {
		return " FOR UPDATE"
	}
	return ""
}

// users

const userColumns = `id, email, name, role, password, must_change_password, last_seen_at, created_at`

func scanUser(row pgx.Row) (*models.User, error) {
	var u models.User
	if err := row.Scan(&u.ID, &u.Email, &u.Name, &u.Role, &u.Password,
		&u.MustChangePassword, &u.LastSeenAt, &u.CreatedAt); err != nil {
		return nil, translate(err)
	}
	return &u, nil
}

func (t *pgTx) CreateUser(ctx context.Context, u *models.User) error {
	err := t.tx.QueryRow(ctx, `
		INSERT INTO users (email, name, role, password, must_change_password, last_seen_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at
	`, u.Email, u.Name, u.Role, u.Password, u.MustChangePassword, u.LastSeenAt).Scan(&u.ID, &u.CreatedAt)
	return translate(err)
}

func (t *pgTx) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	return scanUser(t.tx.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

func (t *pgTx) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return scanUser(t.tx.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE lower(email) = lower($1)`, email))
}

func (t *pgTx) ListUsers(ctx context.Context) ([]models.User, error) {
	rows, err := t.tx.Query(ctx, `SELECT `+userColumns+` FROM users ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *u)
	}
	return out, rows.Err()
}

func (t *pgTx) UpdateUserPassword(ctx context.Context, id int64, hash string, mustChange bool) error {
	ct, err := t.tx.Exec(ctx, `UPDATE users SET password = $1, must_change_password = $2 WHERE id = $3`, hash, mustChange, id)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *pgTx) TouchUser(ctx context.Context, id int64, at time.Time) error {
	ct, err := t.tx.Exec(ctx, `UPDATE users SET last_seen_at = $1 WHERE id = $2`, at, id)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// projects & servers

const projectColumns = `id, name, description, repo_url, deployment_url, created_at`

func scanProject(row pgx.Row) (*models.Project, error) {
	var p models.Project
	if err := row.Scan(&p.ID, &p.Name, &p.Description, &p.RepoURL, &p.DeploymentURL, &p.CreatedAt); err != nil {
		return nil, translate(err)
	}
	return &p, nil
}

func (t *pgTx) CreateProject(ctx context.Context, p *models.Project) error {
	return t.tx.QueryRow(ctx, `
		INSERT INTO projects (name, description, repo_url, deployment_url)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`, p.Name, p.Description, p.RepoURL, p.DeploymentURL).Scan(&p.ID, &p.CreatedAt)
}

func (t *pgTx) GetProject(ctx context.Context, id int64) (*models.Project, error) {
	return scanProject(t.tx.QueryRow(ctx, `SELECT `+projectColumns+` FROM projects WHERE id = $1`, id))
}

func (t *pgTx) ListProjects(ctx context.Context) ([]models.Project, error) {
	rows, err := t.tx.Query(ctx, `SELECT `+projectColumns+` FROM projects ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.Project{}
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func (t *pgTx) DeleteProject(ctx context.Context, id int64) error {
	ct, err := t.tx.Exec(ctx, `DELETE FROM projects WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *pgTx) CreateServer(ctx context.Context, s *models.Server) error {
	return t.tx.QueryRow(ctx, `
		INSERT INTO servers (project_id, name, url) VALUES ($1, $2, $3) RETURNING id
	`, s.ProjectID, s.Name, s.URL).Scan(&s.ID)
}

func (t *pgTx) ListServers(ctx context.Context, projectID int64) ([]models.Server, error) {
	rows, err := t.tx.Query(ctx, `SELECT id, project_id, name, url FROM servers WHERE project_id = $1 ORDER BY id`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.Server{}
	for rows.Next() {
		var s models.Server
		if err := rows.Scan(&s.ID, &s.ProjectID, &s.Name, &s.URL); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (t *pgTx) DeleteServersByProject(ctx context.Context, projectID int64) error {
	_, err := t.tx.Exec(ctx, `DELETE FROM servers WHERE project_id = $1`, projectID)
	return err
}

// branches

func (t *pgTx) CreateBranch(ctx context.Context, b *models.Branch) error {
	return t.tx.QueryRow(ctx, `
		INSERT INTO project_branches (project_id, name) VALUES ($1, $2) RETURNING id
	`, b.ProjectID, b.Name).Scan(&b.ID)
}

func (t *pgTx) GetBranch(ctx context.Context, id int64) (*models.Branch, error) {
	var b models.Branch
	err := t.tx.QueryRow(ctx, `SELECT id, project_id, name FROM project_branches WHERE id = $1`, id).
		Scan(&b.ID, &b.ProjectID, &b.Name)
	if err != nil {
		return nil, translate(err)
	}
	return &b, nil
}

func (t *pgTx) ListBranches(ctx context.Context, projectIDs []int64) ([]models.Branch, error) {
	q := `SELECT id, project_id, name FROM project_branches`
	args := []any{}
	if projectIDs != nil {
		q += ` WHERE project_id = ANY($1)`
		args = append(args, projectIDs)
	}
	rows, err := t.tx.Query(ctx, q+` ORDER BY id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.Branch{}
	for rows.Next() {
		var b models.Branch
		if err := rows.Scan(&b.ID, &b.ProjectID, &b.Name); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (t *pgTx) DeleteBranches(ctx context.Context, ids []int64) error {
	_, err := t.tx.Exec(ctx, `DELETE FROM project_branches WHERE id = ANY($1)`, ids)
	return err
}

// ownerships

const ownershipColumns = `id, user_id, branch_id, role, status, note, created_at`

func scanOwnership(row pgx.Row) (*models.Ownership, error) {
	var o models.Ownership
	if err := row.Scan(&o.ID, &o.UserID, &o.BranchID, &o.Role, &o.Status, &o.Note, &o.CreatedAt); err != nil {
		return nil, translate(err)
	}
	return &o, nil
}

func (t *pgTx) GetOwnership(ctx context.Context, userID, branchID int64, forUpdate bool) (*models.Ownership, error) {
	return scanOwnership(t.tx.QueryRow(ctx, `
		SELECT `+ownershipColumns+`
		FROM branch_ownerships
		WHERE user_id = $1 AND branch_id = $2`+lockClause(forUpdate), userID, branchID))
}

func (t *pgTx) InsertOwnership(ctx context.Context, o *models.Ownership) (bool, error) {
	err := t.tx.QueryRow(ctx, `
		INSERT INTO branch_ownerships (user_id, branch_id, role, status, note)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id, branch_id) DO NOTHING
		RETURNING id, created_at
	`, o.UserID, o.BranchID, o.Role, o.Status, o.Note).Scan(&o.ID, &o.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (t *pgTx) UpdateOwnership(ctx context.Context, id int64, role models.OwnershipRole, status models.OwnershipStatus) (*models.Ownership, error) {
	return scanOwnership(t.tx.QueryRow(ctx, `
		UPDATE branch_ownerships SET role = $1, status = $2
		WHERE id = $3
		RETURNING `+ownershipColumns, role, status, id))
}

func (t *pgTx) ListOwnerships(ctx context.Context, f OwnershipFilter) ([]models.Ownership, error) {
	where := []string{"TRUE"}
	args := []any{}
	i := 1

	if f.UserID != 0 {
		where = append(where, fmt.Sprintf("user_id = $%d", i))
		args = append(args, f.UserID)
		i++
	}
	if f.BranchIDs != nil {
		where = append(where, fmt.Sprintf("branch_id = ANY($%d)", i))
		args = append(args, f.BranchIDs)
		i++
	}
	if f.Status != "" {
		where = append(where, fmt.Sprintf("status = $%d", i))
		args = append(args, f.Status)
	}

	rows, err := t.tx.Query(ctx, fmt.Sprintf(`
		SELECT %s FROM branch_ownerships WHERE %s ORDER BY id
	`, ownershipColumns, strings.Join(where, " AND ")), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.Ownership{}
	for rows.Next() {
		o, err := scanOwnership(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *o)
	}
	return out, rows.Err()
}

func (t *pgTx) DeleteOwnershipsByBranches(ctx context.Context, branchIDs []int64) error {
	_, err := t.tx.Exec(ctx, `DELETE FROM branch_ownerships WHERE branch_id = ANY($1)`, branchIDs)
	return err
}

// tasks

const taskColumns = `t.id, t.branch_id, t.title, t.description, t.points, t.status, t.assigned_to, t.due_at, t.output_type, t.created_at`

func scanTask(row pgx.Row) (*models.Task, error) {
	var task models.Task
	if err := row.Scan(&task.ID, &task.BranchID, &task.Title, &task.Description, &task.Points,
		&task.Status, &task.AssignedToID, &task.DueAt, &task.OutputType, &task.CreatedAt); err != nil {
		return nil, translate(err)
	}
	return &task, nil
}

func (t *pgTx) CreateTask(ctx context.Context, task *models.Task) error {
	return t.tx.QueryRow(ctx, `
		INSERT INTO tasks (branch_id, title, description, points, status, assigned_to, due_at, output_type)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at
	`, task.BranchID, task.Title, task.Description, task.Points, task.Status,
		task.AssignedToID, task.DueAt, task.OutputType).Scan(&task.ID, &task.CreatedAt)
}

func (t *pgTx) GetTask(ctx context.Context, id int64, forUpdate bool) (*models.Task, error) {
	return scanTask(t.tx.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks t WHERE t.id = $1`+lockClause(forUpdate), id))
}

func (t *pgTx) ListTasks(ctx context.Context, f TaskFilter) ([]models.Task, error) {
	from := "tasks t"
	where := []string{"TRUE"}
	args := []any{}
	i := 1

	if f.IDs != nil {
		where = append(where, fmt.Sprintf("t.id = ANY($%d)", i))
		args = append(args, f.IDs)
		i++
	}
	if f.Status != "" {
		where = append(where, fmt.Sprintf("t.status = $%d", i))
		args = append(args, f.Status)
		i++
	}
	if f.BranchIDs != nil {
		where = append(where, fmt.Sprintf("t.branch_id = ANY($%d)", i))
		args = append(args, f.BranchIDs)
		i++
	}
	if f.ProjectID != 0 {
		from = "tasks t JOIN project_branches b ON b.id = t.branch_id"
		where = append(where, fmt.Sprintf("b.project_id = $%d", i))
		args = append(args, f.ProjectID)
		i++
	}
	if f.AssignedTo != 0 {
		where = append(where, fmt.Sprintf("t.assigned_to = $%d", i))
		args = append(args, f.AssignedTo)
	}

	rows, err := t.tx.Query(ctx, fmt.Sprintf(`
		SELECT %s FROM %s WHERE %s ORDER BY t.created_at DESC, t.id DESC
	`, taskColumns, from, strings.Join(where, " AND ")), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.Task{}
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *task)
	}
	return out, rows.Err()
}

func (t *pgTx) UpdateTask(ctx context.Context, id int64, p TaskPatch) (*models.Task, error) {
	sets := make([]string, 0, 8)
	args := make([]any, 0, 8)
	i := 1

	if p.Title != nil {
		sets = append(sets, fmt.Sprintf("title = $%d", i))
		args = append(args, *p.Title)
		i++
	}
	if p.Description != nil {
		sets = append(sets, fmt.Sprintf("description = $%d", i))
		args = append(args, *p.Description)
		i++
	}
	if p.Points != nil {
		sets = append(sets, fmt.Sprintf("points = $%d", i))
		args = append(args, *p.Points)
		i++
	}
	if p.DueAt != nil {
		sets = append(sets, fmt.Sprintf("due_at = $%d", i))
		args = append(args, *p.DueAt)
		i++
	}
	if p.ClearDueAt {
		sets = append(sets, "due_at = NULL")
	}
	if p.Status != nil {
		sets = append(sets, fmt.Sprintf("status = $%d", i))
		args = append(args, *p.Status)
		i++
	}
	if p.OutputType != nil {
		sets = append(sets, fmt.Sprintf("output_type = $%d", i))
		args = append(args, *p.OutputType)
		i++
	}
	if p.ClearAssignee {
		sets = append(sets, "assigned_to = NULL")
	}

	if len(sets) == 0 {
		return nil, fmt.Errorf("no fields to update")
	}

	args = append(args, id)
	q := fmt.Sprintf("UPDATE tasks t SET %s WHERE t.id = $%d RETURNING %s", strings.Join(sets, ", "), i, taskColumns)
	return scanTask(t.tx.QueryRow(ctx, q, args...))
}

func (t *pgTx) TransitionTask(ctx context.Context, tr TaskTransition) (int64, error) {
	sets := []string{"status = $1"}
	args := []any{tr.To}
	if !tr.KeepAssignee {
		sets = append(sets, "assigned_to = $2")
		args = append(args, tr.Assignee)
	}

	where := fmt.Sprintf("id = $%d AND status = $%d", len(args)+1, len(args)+2)
	args = append(args, tr.ID, tr.From)
	if tr.FromAssignee != nil {
		where += fmt.Sprintf(" AND assigned_to = $%d", len(args)+1)
		args = append(args, *tr.FromAssignee)
	}

	ct, err := t.tx.Exec(ctx, fmt.Sprintf("UPDATE tasks SET %s WHERE %s", strings.Join(sets, ", "), where), args...)
	if err != nil {
		return 0, err
	}
	return ct.RowsAffected(), nil
}

func (t *pgTx) ExpireTasks(ctx context.Context, now time.Time) (int64, error) {
	ct, err := t.tx.Exec(ctx, `
		UPDATE tasks SET status = $1, assigned_to = NULL
		WHERE status = $2 AND due_at < $3
	`, models.TaskAvailable, models.TaskTaken, now)
	if err != nil {
		return 0, err
	}
	return ct.RowsAffected(), nil
}

func (t *pgTx) DeleteTasks(ctx context.Context, ids []int64) (int64, error) {
	ct, err := t.tx.Exec(ctx, `DELETE FROM tasks WHERE id = ANY($1)`, ids)
	if err != nil {
		return 0, err
	}
	return ct.RowsAffected(), nil
}

// dependencies

func (t *pgTx) CreateDependencies(ctx context.Context, deps []models.Dependency) error {
	if len(deps) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, d := range deps {
		batch.Queue(`
			INSERT INTO task_dependencies (task_id, depends_on_id) VALUES ($1, $2)
			ON CONFLICT DO NOTHING
		`, d.TaskID, d.DependsOnID)
	}
	return t.tx.SendBatch(ctx, batch).Close()
}

func (t *pgTx) ListDependencies(ctx context.Context, taskIDs []int64) ([]models.Dependency, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT task_id, depends_on_id FROM task_dependencies
		WHERE task_id = ANY($1)
		ORDER BY task_id, depends_on_id
	`, taskIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.Dependency{}
	for rows.Next() {
		var d models.Dependency
		if err := rows.Scan(&d.TaskID, &d.DependsOnID); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (t *pgTx) DeleteDependencies(ctx context.Context, taskIDs []int64) error {
	_, err := t.tx.Exec(ctx, `
		DELETE FROM task_dependencies WHERE task_id = ANY($1) OR depends_on_id = ANY($1)
	`, taskIDs)
	return err
}

// submissions

func (t *pgTx) CreateSubmission(ctx context.Context, s *models.Submission) error {
	return t.tx.QueryRow(ctx, `
		INSERT INTO task_submissions (task_id, user_id, output_type, output_url, note)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`, s.TaskID, s.UserID, s.OutputType, s.OutputURL, s.Note).Scan(&s.ID, &s.CreatedAt)
}

func (t *pgTx) ListSubmissions(ctx context.Context, f SubmissionFilter) ([]models.Submission, error) {
	q := `SELECT id, task_id, user_id, output_type, output_url, note, created_at FROM task_submissions`
	args := []any{}
	if f.TaskIDs != nil {
		q += ` WHERE task_id = ANY($1)`
		args = append(args, f.TaskIDs)
	}
	q += ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		q += fmt.Sprintf(` LIMIT %d`, f.Limit)
	}

	rows, err := t.tx.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.Submission{}
	for rows.Next() {
		var s models.Submission
		if err := rows.Scan(&s.ID, &s.TaskID, &s.UserID, &s.OutputType, &s.OutputURL, &s.Note, &s.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (t *pgTx) DeleteSubmissions(ctx context.Context, taskIDs []int64) error {
	_, err := t.tx.Exec(ctx, `DELETE FROM task_submissions WHERE task_id = ANY($1)`, taskIDs)
	return err
}
