package tensor

import (
	"fmt"
)

// topoOrder returns the tensors reachable from root through creators in
// dependency order (inputs before consumers).
func topoOrder(root *Tensor) []*Tensor {
	var order []*Tensor
	visited := make(map[*Tensor]bool)
	var visit func(t *Tensor)
	visit = func(t *Tensor) {
		if visited[t] {
			return
		}
		visited[t] = true
		if t.creator != nil {
			for _, in := range t.creator.inputs() {
				visit(in)
			}
		}
		order = append(order, t)
	}
	visit(root)
	return order
}

func accumulate(grads map[*Tensor]*Tensor, t *Tensor, g *Tensor) error {
	existing, ok := grads[t]
	if !ok {
		grads[t] = g
		return nil
	}
	sum, err := Add(existing, g)
	if err != nil {
		return fmt.Errorf("gradient accumulation failed for %v: %w", t.Shape, err)
	}
	grads[t] = sum
	return nil
}

// propagate runs the chain rule from root with the given seed and
// returns the gradient reached at every visited tensor. Gradients are
// computed with the exported operations, so when the surrounding graph
// still requires gradients the results are differentiable themselves.
func propagate(root, seed *Tensor) (map[*Tensor]*Tensor, error) {
	order := topoOrder(root)
	grads := make(map[*Tensor]*Tensor, len(order))
	grads[root] = seed
	for i := len(order) - 1; i >= 0; i-- {
		node := order[i]
		g, ok := grads[node]
		if !ok || node.creator == nil {
			continue
		}
		inputGrads, err := node.creator.backward(g)
		if err != nil {
			return nil, fmt.Errorf("backward of %T failed: %w", node.creator, err)
		}
		ins := node.creator.inputs()
		if len(inputGrads) != len(ins) {
			return nil, fmt.Errorf("backward of %T returned %d gradients for %d inputs", node.creator, len(inputGrads), len(ins))
		}
		for j, in := range ins {
			if inputGrads[j] == nil || !in.requiresGrad {
				continue
			}
			if !inputGrads[j].ShapeEquals(in.Shape) {
				return nil, fmt.Errorf("backward of %T produced gradient shape %v for input shape %v", node.creator, inputGrads[j].Shape, in.Shape)
			}
			if err := accumulate(grads, in, inputGrads[j]); err != nil {
				return nil, err
			}
		}
	}
	return grads, nil
}

// Backward accumulates gradients of the scalar loss into the .grad of
// every reachable leaf that requires gradients (i.e. the parameters).
func Backward(loss *Tensor) error {
	if loss.NumElems != 1 {
		return fmt.Errorf("backward requires a scalar loss, got shape %v", loss.Shape)
	}
	if !loss.requiresGrad {
		return fmt.Errorf("backward called on a tensor with no graph attached")
	}
	grads, err := propagate(loss, OnesLike(loss))
	if err != nil {
		return err
	}
	for t, g := range grads {
		if t.creator != nil || !t.requiresGrad {
			continue
		}
		if t.grad == nil {
			t.grad = g.Clone()
			continue
		}
		for i := range t.grad.Data {
			t.grad.Data[i] += g.Data[i]
		}
	}
	return nil
}

// Grad returns the gradient of output with respect to wrt as a graph
// tensor, without touching any .grad accumulator. The seed is an
// all-ones tensor of output's shape, matching the convention for critic
// scores. Because the result stays in the graph it can be fed into a
// further loss term and differentiated again — this is the mechanism
// behind the gradient penalty.
func Grad(output, wrt *Tensor) (*Tensor, error) {
	if !output.requiresGrad {
		return nil, fmt.Errorf("grad called on a tensor with no graph attached")
	}
	grads, err := propagate(output, OnesLike(output))
	if err != nil {
		return nil, err
	}
	g, ok := grads[wrt]
	if !ok {
		return nil, fmt.Errorf("target tensor is not reachable from the output graph")
	}
	return g, nil
}
