package main

import (
	"context"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/evidence-cli/internal/model"
	"github.com/sells-group/evidence-cli/internal/navigator"
	"github.com/sells-group/evidence-cli/internal/overlay"
)

var (
	overlayDocument   string
	overlayPage       int
	overlayTotalPages int
	overlayWidth      float64
	overlayHeight     float64
	overlayField      string
	overlayRecordType string
	overlaySelect     string
)

// overlayRequest describes one rendered page for renderOverlay.
type overlayRequest struct {
	DocumentID string
	Page       int
	TotalPages int
	Dims       overlay.PageDimensions
	Field      *navigator.Field
	SelectID   string
}

// overlayOutput is what the overlay command prints.
type overlayOutput struct {
	State   navigator.State     `json:"state"`
	Overlay overlay.Overlay     `json:"overlay"`
	Field   []model.EvidenceRef `json:"field_evidence,omitempty"`
}

var overlayCmd = &cobra.Command{
	Use:   "overlay",
	Short: "Print the highlight overlay for a document page",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		req := overlayRequest{
			DocumentID: overlayDocument,
			Page:       overlayPage,
			TotalPages: overlayTotalPages,
			Dims:       overlay.PageDimensions{Width: overlayWidth, Height: overlayHeight},
			SelectID:   overlaySelect,
		}
		if overlayField != "" {
			rt := model.RecordType(overlayRecordType)
			if !rt.Valid() {
				return eris.Errorf("overlay: unknown record type %q", overlayRecordType)
			}
			req.Field = &navigator.Field{ID: overlayField, RecordType: rt}
		}
		if !req.Dims.Valid() {
			return eris.New("overlay: --width and --height must be positive")
		}

		env, err := initEnv(ctx, cfg)
		if err != nil {
			return err
		}
		defer env.Close()

		out, err := renderOverlay(ctx, env.Evidence, req)
		if err != nil {
			return err
		}
		return writeIndentedJSON(cmd.OutOrStdout(), out)
	},
}

// renderOverlay drives a navigator through load, render and an optional
// selection, then snapshots the result.
func renderOverlay(ctx context.Context, src navigator.Source, req overlayRequest) (overlayOutput, error) {
	nav := navigator.New(src, navigator.Config{
		DocumentID:  req.DocumentID,
		InitialPage: req.Page,
		Field:       req.Field,
	})
	if req.TotalPages > 0 {
		nav.OnDocumentLoad(req.TotalPages)
	}
	nav.OnPageRendered(req.Dims)
	nav.SetPage(ctx, nav.State().CurrentPage)

	var out overlayOutput
	if req.Field != nil {
		out.Field = nav.LoadField(ctx)
	}

	if req.SelectID != "" {
		ref, ok := findRef(req.SelectID, out.Field, nav.Highlights())
		if !ok {
			return overlayOutput{}, eris.Errorf("overlay: evidence %s not found", req.SelectID)
		}
		nav.Select(ctx, ref)
	}

	out.State = nav.State()
	out.Overlay = nav.Highlights()
	return out, nil
}

// findRef looks for id in the field evidence first, then on the page.
func findRef(id string, field []model.EvidenceRef, ov overlay.Overlay) (model.EvidenceRef, bool) {
	for _, r := range field {
		if r.ID == id {
			return r, true
		}
	}
	for _, r := range ov.Metadata {
		if r.ID == id {
			return r, true
		}
	}
	return model.EvidenceRef{}, false
}

func init() {
	overlayCmd.Flags().StringVar(&overlayDocument, "document", "", "document id (required)")
	overlayCmd.Flags().IntVar(&overlayPage, "page", 1, "page to render")
	overlayCmd.Flags().IntVar(&overlayTotalPages, "pages", 0, "document page count, 0 if unknown")
	overlayCmd.Flags().Float64Var(&overlayWidth, "width", 816, "rendered page width in pixels")
	overlayCmd.Flags().Float64Var(&overlayHeight, "height", 1056, "rendered page height in pixels")
	overlayCmd.Flags().StringVar(&overlayField, "field", "", "field key under review")
	overlayCmd.Flags().StringVar(&overlayRecordType, "record-type", string(model.RecordContract), "field record type")
	overlayCmd.Flags().StringVar(&overlaySelect, "select", "", "evidence id to select")
	_ = overlayCmd.MarkFlagRequired("document")
	rootCmd.AddCommand(overlayCmd)
}
