// Package model defines the data passed between the segmentation, dispatch,
// merge, unification and output stages, together with the error kinds every
// stage reports failures with.
package model
