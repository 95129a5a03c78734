package script

// Template is a ready-made script offered to users as a starting point.
type Template struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Script      string `json:"script"`
}

var templates = []Template{
	{
		Name:        "basic-video",
		Description: "Basic Video Conversion",
		Script:      "# Basic Video Conversion\n-i input.mp4 -c:v libx264 -crf 23 -preset medium -c:a aac -b:a 128k output.mp4",
	},
	{
		Name:        "images-to-video",
		Description: "Image Sequence to Video",
		Script:      "# Image Sequence to Video\n-framerate 30 -i input_%d.jpg -c:v libx264 -pix_fmt yuv420p output.mp4",
	},
	{
		Name:        "fade-effects",
		Description: "Add Fade In/Out",
		Script:      "# Add Fade In/Out\n-i input.mp4 -vf \"fade=in:0:30,fade=out:300:30\" -c:a copy output.mp4",
	},
}

// Templates returns a copy of the built-in script templates.
func Templates() []Template {
	out := make([]Template, len(templates))
	copy(out, templates)
	return out
}
