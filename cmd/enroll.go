package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"classtrack/internal/attendance"
	"classtrack/internal/config"
	"classtrack/internal/store/postgres"
)

var enrollCmd = &cobra.Command{
	Use:   "enroll <students.jsonl>",
	Short: "Batch-enroll students from a JSON-lines file",
	Long: `Enroll students into the central ledger from a JSON-lines file.
Each line is one student object:

  {"id": "s-042", "name": "Jan Novák", "roll_no": "42", "room_id": "room-a", "embedding": [ ...128 floats ]}

Students without an embedding are accepted but never matched by agents;
they only show up through manual overrides. Lines whose normalized name
duplicates an earlier line are skipped.`,
	Args: cobra.ExactArgs(1),
	RunE: runEnroll,
}

func init() {
	rootCmd.AddCommand(enrollCmd)

	enrollCmd.Flags().Bool("dry-run", false, "Parse and validate without writing to the database")
}

// enrollLine is one line of the input file.
type enrollLine struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	RollNo    string    `json:"roll_no"`
	RoomID    string    `json:"room_id"`
	PhotoURL  string    `json:"photo_url"`
	Embedding []float32 `json:"embedding"`
}

func runEnroll(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	dryRun := mustGetBool(cmd, "dry-run")

	lines, err := readEnrollFile(args[0], cfg.Matcher.EmbeddingDim)
	if err != nil {
		return err
	}
	if len(lines) == 0 {
		fmt.Println("Nothing to enroll.")
		return nil
	}
	fmt.Printf("Parsed %d students\n", len(lines))

	if dryRun {
		fmt.Println("Dry run, not writing to the database.")
		return nil
	}

	if cfg.Database.URL == "" {
		return errors.New("DATABASE_URL environment variable is required")
	}
	pool, err := postgres.Initialize(&cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to initialize PostgreSQL: %w", err)
	}
	defer pool.Close()
	store := postgres.NewStore(pool)

	bar := progressbar.NewOptions(len(lines),
		progressbar.OptionSetDescription("Enrolling"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("students"),
		progressbar.OptionShowElapsedTimeOnFinish(),
	)

	ctx := context.Background()
	var enrolled, failed int
	for _, line := range lines {
		student := &attendance.Student{
			ID:        line.ID,
			Name:      attendance.NormalizeName(line.Name),
			RollNo:    line.RollNo,
			RoomID:    line.RoomID,
			PhotoURL:  line.PhotoURL,
			Embedding: line.Embedding,
			CreatedAt: time.Now().UTC(),
		}
		if err := store.CreateStudent(ctx, student); err != nil {
			failed++
			fmt.Fprintf(os.Stderr, "\nenroll %s: %v\n", line.Name, err)
		} else {
			enrolled++
		}
		bar.Add(1)
	}

	fmt.Printf("\nEnrolled %d students", enrolled)
	if failed > 0 {
		fmt.Printf(", %d failed", failed)
	}
	fmt.Println()
	return nil
}

// readEnrollFile parses and validates the JSON-lines input. Duplicate
// normalized names and wrong-dimension embeddings are rejected up front so
// a typo does not half-apply the batch.
func readEnrollFile(path string, embeddingDim int) ([]enrollLine, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open input: %w", err)
	}
	defer f.Close()

	var lines []enrollLine
	seen := make(map[string]int)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}

		var line enrollLine
		if err := json.Unmarshal(raw, &line); err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		if line.Name == "" {
			return nil, fmt.Errorf("line %d: name is required", lineNo)
		}
		if len(line.Embedding) != 0 && len(line.Embedding) != embeddingDim {
			return nil, fmt.Errorf("line %d: embedding has %d dimensions, want %d",
				lineNo, len(line.Embedding), embeddingDim)
		}

		normalized := attendance.NormalizeName(line.Name)
		if prev, ok := seen[normalized]; ok {
			fmt.Fprintf(os.Stderr, "line %d: skipping duplicate of line %d (%s)\n", lineNo, prev, line.Name)
			continue
		}
		seen[normalized] = lineNo
		lines = append(lines, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read input: %w", err)
	}
	return lines, nil
}
