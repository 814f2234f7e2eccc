package dataplane

import "github.com/vishvananda/netns"

// Namespacer is the subset of vishvananda/netns this package needs.
type Namespacer interface {
	GetFromName(name string) (netns.NsHandle, error)
	NewNamed(name string) (netns.NsHandle, error)
	DeleteNamed(name string) error
	Set(ns netns.NsHandle) error
	Get() (netns.NsHandle, error)
}

// RealNamespacer forwards to the package-level vishvananda/netns
// functions.
type RealNamespacer struct{}

func (RealNamespacer) GetFromName(name string) (netns.NsHandle, error) { return netns.GetFromName(name) }
func (RealNamespacer) NewNamed(name string) (netns.NsHandle, error)    { return netns.NewNamed(name) }
func (RealNamespacer) DeleteNamed(name string) error                   { return netns.DeleteNamed(name) }
func (RealNamespacer) Set(ns netns.NsHandle) error                     { return netns.Set(ns) }
func (RealNamespacer) Get() (netns.NsHandle, error)                    { return netns.Get() }
