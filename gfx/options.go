package gfx

import (
	"os"

	"github.com/afrcore/afrcore/descriptor"
	"github.com/afrcore/afrcore/dynheap"
	"github.com/afrcore/afrcore/internal/utils"
	"github.com/afrcore/afrcore/upload"
	"github.com/cockroachdb/errors"
	"github.com/mitchellh/go-homedir"
	"github.com/pelletier/go-toml/v2"
)

// CreateFlags indicate specific device behaviors to activate or deactivate
type CreateFlags int32

var deviceCreateFlagsMapping = utils.NewFlagStringMapping[CreateFlags]()

func (f CreateFlags) Register(str string) {
	deviceCreateFlagsMapping.Register(f, str)
}
func (f CreateFlags) String() string {
	return deviceCreateFlagsMapping.FlagsToString(f)
}

const (
	// DeviceCreateExternallySynchronized ensures that the descriptor allocators owned by the device
	// are not synchronized internally. The consumer must guarantee they are used from only one
	// goroutine at a time.
	DeviceCreateExternallySynchronized CreateFlags = 1 << iota
	// DeviceCreateStrictStateTracking makes submission fail with memutils.UnknownResourceError when a
	// command list uses a resource that was never registered with the device. Without it, such
	// resources are assumed to be in the COMMON state.
	DeviceCreateStrictStateTracking
)

func init() {
	DeviceCreateExternallySynchronized.Register("DeviceCreateExternallySynchronized")
	DeviceCreateStrictStateTracking.Register("DeviceCreateStrictStateTracking")
}

// CreateOptions contains optional settings when creating a Device. The zero value is usable.
type CreateOptions struct {
	// Flags indicates specific device behaviors to activate or deactivate
	Flags CreateFlags

	// DescriptorsPerPage is the size of a CPU descriptor page. Zero means 256.
	DescriptorsPerPage int
	// MaxDescriptorPages caps the number of pages each descriptor allocator creates. Zero means
	// no cap.
	MaxDescriptorPages int
	// UploadPageSize is the size in bytes of each command list's upload pages. Zero means 2MiB.
	UploadPageSize int
	// DynamicDescriptorsPerHeap is the size of the shader-visible heaps command lists commit
	// descriptors into. Zero means 1024.
	DynamicDescriptorsPerHeap uint32

	// NumFrames is the number of frames that may be in flight at once. Zero means 1 on a device
	// with more than one node and 2 otherwise.
	NumFrames uint32
	// BackBuffersPerNode is the number of swap chain buffers per node. Zero means 1 on a device with
	// more than one node and 2 otherwise.
	BackBuffersPerNode uint32

	// GenerateMipsShader is the compute shader bytecode of the mip generation pipeline. Without it,
	// CommandList.GenerateMips fails.
	GenerateMipsShader []byte
}

func (o CreateOptions) withDefaults(nodeCount uint32) CreateOptions {
	if o.DescriptorsPerPage <= 0 {
		o.DescriptorsPerPage = descriptor.DefaultDescriptorsPerPage
	}
	if o.UploadPageSize <= 0 {
		o.UploadPageSize = upload.DefaultPageSize
	}
	if o.DynamicDescriptorsPerHeap == 0 {
		o.DynamicDescriptorsPerHeap = dynheap.DefaultDescriptorsPerHeap
	}

	perNode := uint32(2)
	if nodeCount > 1 {
		perNode = 1
	}
	if o.NumFrames == 0 {
		o.NumFrames = perNode
	}
	if o.BackBuffersPerNode == 0 {
		o.BackBuffersPerNode = perNode
	}
	return o
}

// optionsFile is the on-disk layout read by LoadOptions
type optionsFile struct {
	Flags                     []string `toml:"flags"`
	DescriptorsPerPage        int      `toml:"descriptors_per_page"`
	MaxDescriptorPages        int      `toml:"max_descriptor_pages"`
	UploadPageSize            int      `toml:"upload_page_size"`
	DynamicDescriptorsPerHeap uint32   `toml:"dynamic_descriptors_per_heap"`
	NumFrames                 uint32   `toml:"num_frames"`
	BackBuffersPerNode        uint32   `toml:"back_buffers_per_node"`
	GenerateMipsShader        string   `toml:"generate_mips_shader"`
}

// ParseOptions reads CreateOptions from a TOML document. Flags are referred to by their registered
// names and generate_mips_shader is the path of a compiled shader, which is read immediately.
//
//	flags = ["DeviceCreateStrictStateTracking"]
//	descriptors_per_page = 128
//	generate_mips_shader = "~/shaders/GenerateMips_CS.cso"
func ParseOptions(data []byte) (CreateOptions, error) {
	var file optionsFile
	if err := toml.Unmarshal(data, &file); err != nil {
		return CreateOptions{}, errors.Wrap(err, "parsing device options")
	}

	flags, err := deviceCreateFlagsMapping.Parse(file.Flags)
	if err != nil {
		return CreateOptions{}, err
	}

	options := CreateOptions{
		Flags:                     flags,
		DescriptorsPerPage:        file.DescriptorsPerPage,
		MaxDescriptorPages:        file.MaxDescriptorPages,
		UploadPageSize:            file.UploadPageSize,
		DynamicDescriptorsPerHeap: file.DynamicDescriptorsPerHeap,
		NumFrames:                 file.NumFrames,
		BackBuffersPerNode:        file.BackBuffersPerNode,
	}

	if file.GenerateMipsShader != "" {
		shaderPath, err := homedir.Expand(file.GenerateMipsShader)
		if err != nil {
			return CreateOptions{}, errors.Wrapf(err, "expanding shader path %q", file.GenerateMipsShader)
		}
		options.GenerateMipsShader, err = os.ReadFile(shaderPath)
		if err != nil {
			return CreateOptions{}, errors.Wrap(err, "reading mip generation shader")
		}
	}

	return options, nil
}

// LoadOptions reads CreateOptions from the TOML file at path. A leading ~ is expanded to the
// user's home directory.
func LoadOptions(path string) (CreateOptions, error) {
	expanded, err := homedir.Expand(path)
	if err != nil {
		return CreateOptions{}, errors.Wrapf(err, "expanding options path %q", path)
	}

	data, err := os.ReadFile(expanded)
	if err != nil {
		return CreateOptions{}, errors.Wrap(err, "reading device options")
	}
	return ParseOptions(data)
}
