// Package harvest turns a loaded configuration into a runnable harvest.
//
// Build resolves every configured job, opens the shared database sinks and
// the optional media pool, and wires one worker per job into a supervisor:
//
//	h, err := harvest.Build(ctx, cfg, log)
//	if err != nil {
//		return err
//	}
//	defer h.Close()
//	report := h.Run(ctx)
//	report.Render(os.Stdout)
//
// Cancelling ctx stops every worker cooperatively; each saves a final
// checkpoint before Run returns.
package harvest
