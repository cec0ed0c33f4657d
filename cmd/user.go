package cmd

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/casebook/internal/api/auth"
	"github.com/casebook/pkg/models"
)

// UserCommand manages accounts from the command line
func UserCommand() *cli.Command {
	return &cli.Command{
		Name:  "user",
		Usage: "Manage user accounts",
		Subcommands: []*cli.Command{
			{
				Name:  "create",
				Usage: "Create a user",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "username", Aliases: []string{"u"}, Required: true},
					&cli.StringFlag{Name: "password", Required: true, EnvVars: []string{"CASEBOOK_NEW_USER_PASSWORD"}},
					&cli.StringFlag{Name: "roles", Usage: "Space separated role names"},
					&cli.BoolFlag{Name: "admin", Usage: "Grant administrator access"},
				},
				Action: runUserCreate,
			},
		},
	}
}

func runUserCreate(c *cli.Context) error {
	cfg, err := loadRuntime(c)
	if err != nil {
		return err
	}

	st, closeStore, err := openStore(c.Context, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	hash, err := auth.HashPassword(c.String("password"))
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	user := &models.User{
		Username:     c.String("username"),
		PasswordHash: hash,
		Roles:        c.String("roles"),
		IsAdmin:      c.Bool("admin"),
	}
	if err := st.CreateUser(c.Context, user); err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}

	fmt.Printf("Created user %s with id %d\n", user.Username, user.ID)
	return nil
}
