// Command bevsync-cli manages the camera install store read by bevsync at
// startup.
package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"bevsync/internal/auth"
	"bevsync/internal/database"
)

const usage = `usage: bevsync-cli <command> [flags]

commands:
  add-camera    -id N -name NAME -x X -y Y [-theta DEG] [-h '[[..],[..],[..]]']
  remove-camera -id N
  set-token     -id N -token TOKEN [-hash]
  revoke-token  -id N
  list

every command accepts -db PATH (default $DB_PATH or bevsync.db)`

var errUsage = errors.New("invalid usage")

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, errUsage) {
			fmt.Fprintln(os.Stderr, usage)
		}
		fmt.Fprintf(os.Stderr, "bevsync-cli: %v\n", err)
		os.Exit(1)
	}
}

func defaultDBPath() string {
	if p := os.Getenv("DB_PATH"); p != "" {
		return p
	}
	return "bevsync.db"
}

func run(args []string, out io.Writer) error {
	if len(args) == 0 {
		return errUsage
	}
	cmd, args := args[0], args[1:]

	fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	dbPath := fs.String("db", defaultDBPath(), "SQLite install store path")
	id := fs.Int("id", -1, "Camera id")

	var (
		name, token, homography *string
		x, y, theta             *float64
		hash                    *bool
	)
	switch cmd {
	case "add-camera":
		name = fs.String("name", "", "Camera name")
		x = fs.Float64("x", 0, "BEV x position")
		y = fs.Float64("y", 0, "BEV y position")
		theta = fs.Float64("theta", 0, "Orientation in degrees")
		homography = fs.String("h", "", "Homography as a JSON 3x3 array")
	case "set-token":
		token = fs.String("token", "", "Ingest token")
		hash = fs.Bool("hash", false, "Store a bcrypt hash instead of the plain token")
	case "remove-camera", "revoke-token", "list":
	default:
		return fmt.Errorf("%w: unknown command %q", errUsage, cmd)
	}
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	if cmd != "list" && *id < 0 {
		return fmt.Errorf("%w: -id is required", errUsage)
	}

	db, err := database.New(*dbPath)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		return err
	}

	switch cmd {
	case "add-camera":
		rec := &database.CameraRecord{ID: *id, Name: *name, BevX: *x, BevY: *y, Theta: *theta}
		if rec.Name == "" {
			rec.Name = fmt.Sprintf("Camera %d", *id)
		}
		if *homography != "" {
			if err := json.Unmarshal([]byte(*homography), &rec.Homography); err != nil {
				return fmt.Errorf("parse -h: %w", err)
			}
			if !is3x3(rec.Homography) {
				return fmt.Errorf("%w: -h must be a 3x3 matrix", errUsage)
			}
		}
		if err := db.SaveCamera(rec); err != nil {
			return err
		}
		fmt.Fprintf(out, "saved camera %d\n", *id)

	case "remove-camera":
		if err := db.DeleteCamera(*id); err != nil {
			return err
		}
		fmt.Fprintf(out, "removed camera %d\n", *id)

	case "set-token":
		if *token == "" {
			return fmt.Errorf("%w: -token is required", errUsage)
		}
		stored := *token
		if *hash {
			if stored, err = auth.HashToken(*token); err != nil {
				return err
			}
		}
		if err := db.SaveToken(&database.TokenRecord{CameraID: *id, Token: stored}); err != nil {
			return err
		}
		fmt.Fprintf(out, "set token for camera %d\n", *id)

	case "revoke-token":
		if err := db.DeleteToken(*id); err != nil {
			return err
		}
		fmt.Fprintf(out, "revoked token for camera %d\n", *id)

	case "list":
		return list(db, out)
	}
	return nil
}

func list(db *database.Database, out io.Writer) error {
	cams, err := db.ListCameras()
	if err != nil {
		return err
	}
	toks, err := db.ListTokens()
	if err != nil {
		return err
	}
	token := make(map[int]string, len(toks))
	for _, t := range toks {
		token[t.CameraID] = maskToken(t.Token)
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tBEV_X\tBEV_Y\tTHETA\tH\tTOKEN")
	seen := make(map[int]bool, len(cams))
	for _, c := range cams {
		seen[c.ID] = true
		h := "-"
		if c.Homography != nil {
			h = "yes"
		}
		fmt.Fprintf(tw, "%d\t%s\t%g\t%g\t%g\t%s\t%s\n", c.ID, c.Name, c.BevX, c.BevY, c.Theta, h, orDash(token[c.ID]))
	}
	for _, t := range toks {
		if !seen[t.CameraID] {
			fmt.Fprintf(tw, "%d\t-\t-\t-\t-\t-\t%s\n", t.CameraID, token[t.CameraID])
		}
	}
	return tw.Flush()
}

func maskToken(t string) string {
	if strings.HasPrefix(t, "$2") {
		return "bcrypt"
	}
	if len(t) <= 4 {
		return "****"
	}
	return t[:4] + strings.Repeat("*", len(t)-4)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func is3x3(m [][]float64) bool {
	if len(m) != 3 {
		return false
	}
	for _, row := range m {
		if len(row) != 3 {
			return false
		}
	}
	return true
}
