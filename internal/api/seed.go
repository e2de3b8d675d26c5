package api

import (
	"context"
	"errors"
	"fmt"
	"log"

	"golang.org/x/crypto/bcrypt"

	"kyri56xcaesar/teamcore/internal/models"
	"kyri56xcaesar/teamcore/internal/mproject"
	"kyri56xcaesar/teamcore/internal/mtask"
	"kyri56xcaesar/teamcore/internal/store"
)

const (
	seedUsers       = 11
	seedTasks       = 20
	seedTakenTasks  = 5
	seedProjectName = "Alpha Project"
)

var seedBranches = []string{"Production", "Planning", "Automation & AI", "Communication"}

// Seed fills an empty database with demo users, one project and its tasks.
// It does nothing when a project already exists.
func (a *App) Seed(ctx context.Context) error {
	var existing int
	err := a.store.WithTx(ctx, func(tx store.Tx) error {
		projects, err := tx.ListProjects(ctx)
		existing = len(projects)
		return err
	})
	if err != nil {
		return err
	}
	if existing > 0 {
		log.Printf("seed skipped, %d project(s) already present", existing)
		return nil
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(a.config.SeedPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash seed password: %w", err)
	}

	users := make([]models.User, 0, seedUsers)
	err = a.store.WithTx(ctx, func(tx store.Tx) error {
		for i := 1; i <= seedUsers; i++ {
			email := fmt.Sprintf("member%d@team.core", i)
			u, err := tx.GetUserByEmail(ctx, email)
			if err == nil {
				users = append(users, *u)
				continue
			}
			if !errors.Is(err, store.ErrNotFound) {
				return err
			}

			role := models.RoleMember
			if i == 1 {
				role = models.RoleAdmin
			}
			u = &models.User{
				Email:              email,
				Name:               fmt.Sprintf("Member %d", i),
				Role:               role,
				Password:           string(hash),
				MustChangePassword: true,
			}
			if err := tx.CreateUser(ctx, u); err != nil {
				return fmt.Errorf("create %s: %w", email, err)
			}
			users = append(users, *u)
		}
		return nil
	})
	if err != nil {
		return err
	}

	project, err := a.projects.Create(ctx, mproject.CreateProjectRequest{
		Name:        seedProjectName,
		Description: "Demo project created by the seed",
		Branches:    seedBranches,
	})
	if err != nil {
		return fmt.Errorf("create project: %w", err)
	}

	for i := 0; i < seedTasks; i++ {
		branch := project.Branches[i%len(project.Branches)]
		points := 5 * (1 + i%4)
		task, err := a.tasks.Create(ctx, mtask.CreateTaskRequest{
			BranchID:    branch.ID,
			Title:       fmt.Sprintf("%s task %d", branch.Name, i+1),
			Description: "Seeded task",
			Points:      &points,
		})
		if err != nil {
			return fmt.Errorf("create task %d: %w", i+1, err)
		}
		if i < seedTakenTasks {
			if _, err := a.tasks.Take(ctx, task.ID, users[i].ID); err != nil {
				return fmt.Errorf("take task %d: %w", task.ID, err)
			}
		}
	}

	log.Printf("seeded %d users, project %q with %d branches and %d tasks", len(users), project.Name, len(project.Branches), seedTasks)
	return nil
}
