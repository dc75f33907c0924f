package forecast

import (
	"context"
	"fmt"
)

// rollout runs horizon autoregressive steps. Each step sees only the window
// built from the history and the steps before it.
func rollout(ctx context.Context, model SequenceModel, window [][]float64, horizon int) ([][]float64, error) {
	shape := model.OutputShape()
	win := window
	preds := make([][]float64, 0, horizon)

	for step := 0; step < horizon; step++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("step %d: %w", step, err)
		}

		pred, err := model.Predict(win)
		if err != nil {
			return nil, fmt.Errorf("step %d: %w", step, err)
		}
		if err := shape.check(pred); err != nil {
			return nil, fmt.Errorf("step %d: %w", step, err)
		}
		pred = append([]float64(nil), pred...)
		preds = append(preds, pred)

		next := make([][]float64, 0, len(win))
		next = append(next, win[1:]...)
		next = append(next, shape.NextRow(pred, win[len(win)-1]))
		win = next
	}
	return preds, nil
}

// denormalize inverts each predicted feature column with its own scaler.
// Features outside the model output take the last observed physical value.
func denormalize(shape OutputShape, scalers Scalers, preds [][]float64, last Point) []Point {
	out := make([]Point, len(preds))
	for col, f := range Features {
		idx := shape.index(f)
		for i, pred := range preds {
			if idx < 0 {
				out[i][col] = last[col]
				continue
			}
			out[i][col] = scalers[f].Inverse(pred[idx])
		}
	}
	return out
}
