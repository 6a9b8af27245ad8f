package main

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

// --- versions ---

var versionsCmd = &cobra.Command{
	Use:   "versions",
	Short: "Inspect and manage a project's script versions",
}

var versionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List a project's versions, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		project, _ := cmd.Flags().GetString("project")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/projects/"+url.PathEscape(project)+"/versions")
		if err != nil {
			return err
		}

		var versions []struct {
			ID            string  `json:"id"`
			VersionNumber int     `json:"version_number"`
			CreatedBy     string  `json:"created_by"`
			IsCurrent     bool    `json:"is_current"`
			IsCandidate   bool    `json:"is_candidate"`
			AnalysisScore float64 `json:"analysis_score"`
			CreatedAt     string  `json:"created_at"`
		}
		if err := decodeJSON(resp, &versions); err != nil {
			return err
		}

		if len(versions) == 0 {
			fmt.Println("No versions found.")
			return nil
		}

		for _, v := range versions {
			marker := " "
			if v.IsCurrent {
				marker = colorize(colorGreen, "*")
			} else if v.IsCandidate {
				marker = colorize(colorYellow, "?")
			}
			fmt.Printf("%s V%-3d %s  %-10s score %5.1f  %s\n",
				marker,
				v.VersionNumber,
				colorize(colorCyan, v.ID[:8]),
				v.CreatedBy,
				v.AnalysisScore,
				v.CreatedAt,
			)
		}
		return nil
	},
}

var versionsCurrentCmd = &cobra.Command{
	Use:   "current",
	Short: "Show the project's current version as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		project, _ := cmd.Flags().GetString("project")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/projects/"+url.PathEscape(project)+"/versions/current")
		if err != nil {
			return err
		}

		var version any
		if err := decodeJSON(resp, &version); err != nil {
			return err
		}
		return printJSON(version)
	},
}

var versionsShowCmd = &cobra.Command{
	Use:   "show <version-id>",
	Short: "Show a single version as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/versions/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}

		var version any
		if err := decodeJSON(resp, &version); err != nil {
			return err
		}
		return printJSON(version)
	},
}

var versionsRevertCmd = &cobra.Command{
	Use:   "revert <version-id>",
	Short: "Restore an older version's scenes as a new current version",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		project, _ := cmd.Flags().GetString("project")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		path := fmt.Sprintf("/projects/%s/versions/%s/revert", url.PathEscape(project), url.PathEscape(args[0]))
		resp, err := client.post(cmd.Context(), path, nil)
		if err != nil {
			return err
		}

		var result struct {
			Message string `json:"message"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("%s", result.Message)
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{versionsListCmd, versionsCurrentCmd, versionsRevertCmd} {
		c.Flags().String("project", "", "project identifier")
		c.MarkFlagRequired("project")
	}
	versionsCmd.AddCommand(versionsListCmd)
	versionsCmd.AddCommand(versionsCurrentCmd)
	versionsCmd.AddCommand(versionsShowCmd)
	versionsCmd.AddCommand(versionsRevertCmd)
}

// --- recommendations ---

var recommendationsCmd = &cobra.Command{
	Use:     "recommendations",
	Aliases: []string{"recs"},
	Short:   "List and apply scene recommendations",
}

var recommendationsListCmd = &cobra.Command{
	Use:   "list <version-id>",
	Short: "List the recommendations attached to a version",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/versions/"+url.PathEscape(args[0])+"/recommendations")
		if err != nil {
			return err
		}

		var recs []struct {
			ID            string  `json:"id"`
			SceneID       int     `json:"scene_id"`
			Priority      string  `json:"priority"`
			Area          string  `json:"area"`
			Reasoning     string  `json:"reasoning"`
			ScoreDelta    *int    `json:"score_delta"`
			Confidence    float64 `json:"confidence"`
			Applied       bool    `json:"applied"`
			SuggestedText string  `json:"suggested_text"`
		}
		if err := decodeJSON(resp, &recs); err != nil {
			return err
		}

		if len(recs) == 0 {
			fmt.Println("No recommendations found.")
			return nil
		}

		for i, rec := range recs {
			state := ""
			if rec.Applied {
				state = colorize(colorGreen, " [applied]")
			}
			delta := ""
			if rec.ScoreDelta != nil {
				delta = fmt.Sprintf(" %+d pts", *rec.ScoreDelta)
			}
			fmt.Printf("\n%s scene %d, %s/%s, confidence %.2f%s%s\n",
				colorize(colorBold, fmt.Sprintf("Recommendation %d (%s)", i+1, rec.ID[:8])),
				rec.SceneID, rec.Priority, rec.Area, rec.Confidence, delta, state,
			)
			if rec.Reasoning != "" {
				fmt.Printf("  %s\n", rec.Reasoning)
			}
			text := rec.SuggestedText
			if len(text) > 200 {
				text = text[:200] + "..."
			}
			fmt.Printf("  %s\n", text)
		}
		return nil
	},
}

var recommendationsApplyCmd = &cobra.Command{
	Use:   "apply <version-id> <recommendation-id>",
	Short: "Apply one recommendation, creating a new version",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		path := fmt.Sprintf("/versions/%s/recommendations/%s/apply",
			url.PathEscape(args[0]), url.PathEscape(args[1]))
		resp, err := client.post(cmd.Context(), path, nil)
		if err != nil {
			return err
		}

		var result struct {
			Version struct {
				VersionNumber int `json:"version_number"`
			} `json:"version"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Applied recommendation as new version %d", result.Version.VersionNumber)
		return nil
	},
}

var recommendationsApplyAllCmd = &cobra.Command{
	Use:   "apply-all",
	Short: "Apply the current version's unapplied recommendations as one new version",
	RunE: func(cmd *cobra.Command, args []string) error {
		project, _ := cmd.Flags().GetString("project")
		idsStr, _ := cmd.Flags().GetString("ids")

		var body any
		if idsStr != "" {
			ids := strings.Split(idsStr, ",")
			for i := range ids {
				ids[i] = strings.TrimSpace(ids[i])
			}
			body = map[string]any{"ids": ids}
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		path := "/projects/" + url.PathEscape(project) + "/recommendations/apply-all"
		resp, err := client.post(cmd.Context(), path, body)
		if err != nil {
			return err
		}

		var result struct {
			AppliedCount   int    `json:"applied_count"`
			AffectedScenes []int  `json:"affected_scenes"`
			Message        string `json:"message"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		// The server only sets message for the nothing-to-apply case.
		if result.AppliedCount == 0 {
			fmt.Println(result.Message)
			return nil
		}
		printSuccess("%s", applyAllSummary(result.AppliedCount, result.AffectedScenes))
		return nil
	},
}

// applyAllSummary renders the outcome line of a successful bulk apply.
func applyAllSummary(appliedCount int, affectedScenes []int) string {
	return fmt.Sprintf("Applied %d recommendations across %d scenes", appliedCount, len(affectedScenes))
}

func init() {
	recommendationsApplyAllCmd.Flags().String("project", "", "project identifier")
	recommendationsApplyAllCmd.MarkFlagRequired("project")
	recommendationsApplyAllCmd.Flags().String("ids", "", "comma-separated recommendation ids (default: all unapplied)")
	recommendationsCmd.AddCommand(recommendationsListCmd)
	recommendationsCmd.AddCommand(recommendationsApplyCmd)
	recommendationsCmd.AddCommand(recommendationsApplyAllCmd)
}

// --- reanalyze ---

var reanalyzeCmd = &cobra.Command{
	Use:   "reanalyze",
	Short: "Start a reanalysis job for the project's current version",
	RunE: func(cmd *cobra.Command, args []string) error {
		project, _ := cmd.Flags().GetString("project")
		key, _ := cmd.Flags().GetString("idempotency-key")
		wait, _ := cmd.Flags().GetBool("wait")

		var body any
		if key != "" {
			body = map[string]any{"idempotency_key": key}
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/projects/"+url.PathEscape(project)+"/reanalysis", body)
		if err != nil {
			return err
		}

		var result struct {
			JobID    string `json:"job_id"`
			Existing bool   `json:"existing"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		if result.Existing {
			printStep("Job %s already exists for this idempotency key", result.JobID)
		} else {
			printStep("Started reanalysis job %s", result.JobID)
		}

		if !wait {
			fmt.Println(result.JobID)
			return nil
		}
		return waitForJob(cmd, client, project, result.JobID)
	},
}

var reanalyzeStatusCmd = &cobra.Command{
	Use:   "status <job-id>",
	Short: "Show a reanalysis job's status as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		project, _ := cmd.Flags().GetString("project")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		path := fmt.Sprintf("/projects/%s/reanalysis/%s", url.PathEscape(project), url.PathEscape(args[0]))
		resp, err := client.get(cmd.Context(), path)
		if err != nil {
			return err
		}

		var job any
		if err := decodeJSON(resp, &job); err != nil {
			return err
		}
		return printJSON(job)
	},
}

type jobView struct {
	Status             string `json:"status"`
	Step               string `json:"step"`
	Progress           int    `json:"progress"`
	CandidateVersionID string `json:"candidate_version_id"`
	Error              string `json:"error"`
	CanRetry           bool   `json:"can_retry"`
}

// waitForJob polls the job until it reaches a terminal state, echoing
// progress as it moves through the analysis steps.
func waitForJob(cmd *cobra.Command, client *apiClient, project, jobID string) error {
	path := fmt.Sprintf("/projects/%s/reanalysis/%s", url.PathEscape(project), url.PathEscape(jobID))
	lastProgress := -1

	for {
		resp, err := client.get(cmd.Context(), path)
		if err != nil {
			return err
		}
		var job jobView
		if err := decodeJSON(resp, &job); err != nil {
			return err
		}

		if job.Progress != lastProgress {
			printStep("%s (%d%%)", job.Step, job.Progress)
			lastProgress = job.Progress
		}

		switch job.Status {
		case "done":
			printSuccess("Candidate version ready: %s", job.CandidateVersionID)
			printStep("Run `reeldraft candidate keep candidate --project %s` to promote it", project)
			return nil
		case "error":
			if job.CanRetry {
				printWarning("Reanalysis failed (retryable): %s", job.Error)
			} else {
				printError("Reanalysis failed: %s", job.Error)
			}
			return fmt.Errorf("reanalysis failed: %s", job.Error)
		}

		select {
		case <-cmd.Context().Done():
			return cmd.Context().Err()
		case <-time.After(500 * time.Millisecond):
		}
	}
}

func init() {
	reanalyzeCmd.Flags().String("project", "", "project identifier")
	reanalyzeCmd.MarkFlagRequired("project")
	reanalyzeCmd.Flags().String("idempotency-key", "", "key making repeated starts map to one job")
	reanalyzeCmd.Flags().Bool("wait", false, "poll the job until it finishes")

	reanalyzeStatusCmd.Flags().String("project", "", "project identifier")
	reanalyzeStatusCmd.MarkFlagRequired("project")
	reanalyzeCmd.AddCommand(reanalyzeStatusCmd)
}

// --- candidate ---

var candidateCmd = &cobra.Command{
	Use:   "candidate",
	Short: "Inspect or resolve a pending candidate version",
}

var candidateShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the pending candidate version as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		project, _ := cmd.Flags().GetString("project")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/projects/"+url.PathEscape(project)+"/candidate")
		if err != nil {
			return err
		}

		var candidate any
		if err := decodeJSON(resp, &candidate); err != nil {
			return err
		}
		return printJSON(candidate)
	},
}

var candidateKeepCmd = &cobra.Command{
	Use:   "keep <base|candidate>",
	Short: "Resolve the pending candidate: keep it or keep the base version",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		project, _ := cmd.Flags().GetString("project")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		path := "/projects/" + url.PathEscape(project) + "/candidate/choose"
		resp, err := client.post(cmd.Context(), path, map[string]any{"keep": args[0]})
		if err != nil {
			return err
		}

		var result struct {
			Choice string `json:"choice"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		if result.Choice == "candidate" {
			printSuccess("Candidate promoted to current version")
		} else {
			printSuccess("Candidate discarded, base version kept")
		}
		return nil
	},
}

var candidateCancelCmd = &cobra.Command{
	Use:   "cancel",
	Short: "Discard the pending candidate version",
	RunE: func(cmd *cobra.Command, args []string) error {
		project, _ := cmd.Flags().GetString("project")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.delete(cmd.Context(), "/projects/"+url.PathEscape(project)+"/candidate")
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Candidate cancelled")
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{candidateShowCmd, candidateKeepCmd, candidateCancelCmd} {
		c.Flags().String("project", "", "project identifier")
		c.MarkFlagRequired("project")
	}
	candidateCmd.AddCommand(candidateShowCmd)
	candidateCmd.AddCommand(candidateKeepCmd)
	candidateCmd.AddCommand(candidateCancelCmd)
}
