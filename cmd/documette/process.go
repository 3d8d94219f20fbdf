package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jespere06/documette/internal/controller"
)

var (
	processServer  string
	processToken   string
	processOwnerID string
	processTitle   string
	processAudio   string
	processOutput  string
	processResume  bool
)

var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Convert a meeting recording into minutes",
	Long: `Upload a meeting recording, follow the pipeline through transcription,
speaker identification and drafting, and save the exported DOCX document.`,
	RunE: runProcess,
}

func init() {
	processCmd.Flags().StringVar(&processServer, "server", "http://localhost:8080", "Documette server base URL")
	processCmd.Flags().StringVar(&processToken, "token", "", "Bearer token (minted from --owner when empty)")
	processCmd.Flags().StringVar(&processOwnerID, "owner", "", "Owner ID used to mint a token when --token is empty")
	processCmd.Flags().StringVar(&processTitle, "title", "", "Meeting title")
	processCmd.Flags().StringVar(&processAudio, "audio", "", "Path to the recording to process")
	processCmd.Flags().StringVar(&processOutput, "output", ".", "Directory to write the exported document into")
	processCmd.Flags().BoolVar(&processResume, "resume", false, "Resume the most recent job instead of starting a new one")
	rootCmd.AddCommand(processCmd)
}

func runProcess(cmd *cobra.Command, _ []string) error {
	token := processToken
	if token == "" {
		if processOwnerID == "" {
			return fmt.Errorf("either --token or --owner is required")
		}
		minted, err := mintToken(processServer, processOwnerID)
		if err != nil {
			return err
		}
		token = minted
	}

	ctrl := controller.New(controller.NewClient(processServer, token))
	ctx := cmd.Context()

	if processResume {
		job, doc, err := ctrl.Resume(ctx)
		if err != nil {
			return err
		}
		if job == nil {
			fmt.Println("No job to resume.")
			return nil
		}
		if doc == nil {
			fmt.Printf("Job %s is already %s.\n", job.ID, job.Status)
			return nil
		}
		return saveDocument(doc)
	}

	if processTitle == "" {
		return fmt.Errorf("--title is required")
	}
	if processAudio == "" {
		return fmt.Errorf("--audio is required")
	}

	audio, err := os.Open(processAudio)
	if err != nil {
		return fmt.Errorf("failed to open audio file: %w", err)
	}
	defer audio.Close()

	fileName := filepath.Base(processAudio)
	contentType := mime.TypeByExtension(filepath.Ext(fileName))
	if contentType == "" || !strings.HasPrefix(contentType, "audio/") {
		contentType = "application/octet-stream"
	}

	job, doc, err := ctrl.Run(ctx, controller.RunInput{
		Title:       processTitle,
		FileName:    fileName,
		ContentType: contentType,
		Audio:       audio,
	})
	if err != nil {
		if job != nil {
			ctrl.Reset(ctx, job)
		}
		return err
	}

	fmt.Printf("Job %s finished.\n", job.ID)
	return saveDocument(doc)
}

func saveDocument(doc *controller.Document) error {
	path := filepath.Join(processOutput, doc.Filename)
	if err := os.WriteFile(path, doc.Data, 0o644); err != nil {
		return fmt.Errorf("failed to write document: %w", err)
	}
	fmt.Printf("Saved %s\n", path)
	return nil
}

// mintToken requests a session token for an owner ID.
func mintToken(serverURL, ownerID string) (string, error) {
	payload, err := json.Marshal(map[string]string{"owner_id": ownerID})
	if err != nil {
		return "", err
	}

	resp, err := http.Post(strings.TrimSuffix(serverURL, "/")+"/api/auth/token", "application/json", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to request token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token request rejected with status %d", resp.StatusCode)
	}

	var body struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("failed to decode token response: %w", err)
	}
	return body.Token, nil
}
